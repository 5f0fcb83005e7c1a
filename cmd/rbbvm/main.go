// main.go - command-line runner for the rbbvm bytecode image

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zotley-labs/rbbvm"
)

type linkDirs []string

func (d *linkDirs) String() string     { return fmt.Sprint([]string(*d)) }
func (d *linkDirs) Set(v string) error { *d = append(*d, v); return nil }

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: rbbvm <command> [options] image.rbb

Commands:
  run, r    decode and execute an rbbvm bytecode image (default if omitted)
  help      print this message

Options:
`)
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "help" {
		usage()
		return
	}

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "run" || args[0] == "r") {
		args = args[1:]
	}

	fs := flag.NewFlagSet("rbbvm", flag.ExitOnError)
	var links linkDirs
	fs.Var(&links, "link", "import search directory (repeatable)")
	fs.Var(&links, "l", "shorthand for -link")
	disasm := fs.Bool("disasm", false, "print a disassembly listing instead of running")
	debug := fs.Bool("debug", false, "trace each executed instruction to stdout")
	fs.BoolVar(debug, "d", false, "shorthand for -debug")
	timed := fs.Bool("time", false, "print wall-clock decode/link/run timings")
	fs.BoolVar(timed, "t", false, "shorthand for -time")
	fs.Usage = usage
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	imagePath := fs.Arg(0)

	linkPaths := append([]string(nil), []string(links)...)
	linkPaths = append(linkPaths, filepath.Dir(imagePath))

	decodeStart := time.Now()
	dec := rbbvm.NewDecoder(linkPaths)
	root, err := dec.DecodeFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error decoding %s: %v\n", imagePath, err)
		os.Exit(1)
	}
	decodeElapsed := time.Since(decodeStart)

	if *disasm {
		fmt.Print(rbbvm.String(rbbvm.Disassemble(root)))
		return
	}

	linkStart := time.Now()
	vm, err := rbbvm.NewVM(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error linking %s: %v\n", imagePath, err)
		os.Exit(1)
	}
	linkElapsed := time.Since(linkStart)
	vm.Debug = *debug

	runStart := time.Now()
	ret, err := vm.Run()
	runElapsed := time.Since(runStart)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", err)
		os.Exit(1)
	}
	if ret.Kind != rbbvm.KindVoid {
		fmt.Printf("%v\n", ret)
	}
	if *timed {
		fmt.Printf("decode: %s, link: %s, run: %s\n", decodeElapsed, linkElapsed, runElapsed)
	}
	os.Exit(int(ret.AsInt64()))
}
