package rbbvm

import "testing"

func TestArith_CombinedKindPrecedence(t *testing.T) {
	s := Value{Kind: KindSigned, Signed: -3}
	u := Value{Kind: KindUnsigned, Unsigned: 5}
	d := Value{Kind: KindDecimal, Decimal: 1.5}

	if r, err := Arith('+', s, u); err != nil || r.Kind != KindSigned {
		t.Fatalf("signed+unsigned kind = %v (err %v), want KindSigned", r.Kind, err)
	}
	if r, err := Arith('+', u, d); err != nil || r.Kind != KindDecimal {
		t.Fatalf("unsigned+decimal kind = %v (err %v), want KindDecimal", r.Kind, err)
	}
	if r, err := Arith('+', s, d); err != nil || r.Kind != KindDecimal {
		t.Fatalf("signed+decimal kind = %v (err %v), want KindDecimal", r.Kind, err)
	}
}

func TestArith_DivisionByZero(t *testing.T) {
	a := Value{Kind: KindSigned, Signed: 10}
	z := Value{Kind: KindSigned, Signed: 0}
	if _, err := Arith('/', a, z); err == nil {
		t.Fatal("integer division by zero did not return an error")
	}
	if _, err := Arith('%', a, z); err == nil {
		t.Fatal("integer modulo by zero did not return an error")
	}
	fa := Value{Kind: KindDecimal, Decimal: 10}
	fz := Value{Kind: KindDecimal, Decimal: 0}
	if _, err := Arith('/', fa, fz); err == nil {
		t.Fatal("float division by zero did not return an error")
	}
}

func TestCast_WraparoundNarrowing(t *testing.T) {
	v := Value{Kind: KindSigned, Signed: 300}
	out := Cast(v, TagI8)
	if out.Signed != int64(int8(300)) {
		t.Fatalf("Cast(300, i8) = %d, want %d", out.Signed, int64(int8(300)))
	}

	uv := Value{Kind: KindUnsigned, Unsigned: 0x1FF}
	uout := Cast(uv, TagU8)
	if uout.Unsigned != 0xFF {
		t.Fatalf("Cast(0x1FF, u8) = 0x%X, want 0xFF", uout.Unsigned)
	}
}

func TestCast_IntegerToDecimal(t *testing.T) {
	v := Value{Kind: KindSigned, Signed: -7}
	out := Cast(v, TagF64)
	if out.Kind != KindDecimal || out.Decimal != -7 {
		t.Fatalf("Cast(-7, f64) = %+v, want Decimal -7", out)
	}
}

func TestCompare_MixedKinds(t *testing.T) {
	s := Value{Kind: KindSigned, Signed: -1}
	u := Value{Kind: KindUnsigned, Unsigned: 1}
	if Compare(s, u) >= 0 {
		t.Fatalf("Compare(-1, 1) = %d, want < 0", Compare(s, u))
	}
	d1 := Value{Kind: KindDecimal, Decimal: 2.5}
	d2 := Value{Kind: KindDecimal, Decimal: 2.5}
	if Compare(d1, d2) != 0 {
		t.Fatalf("Compare(2.5, 2.5) = %d, want 0", Compare(d1, d2))
	}
}

func TestShift_LogicalNotArithmetic(t *testing.T) {
	neg := Value{Kind: KindSigned, Signed: -1}
	n := Value{Kind: KindUnsigned, Unsigned: 4}
	r := Shift('>', neg, n)
	want := uint64(0xFFFFFFFFFFFFFFFF) >> 4
	if r.Unsigned != want {
		t.Fatalf("Shift('>', -1, 4) = 0x%X, want 0x%X (logical, not arithmetic)", r.Unsigned, want)
	}
}

func TestValue_StringRendersEachKind(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Value{Kind: KindSigned, Signed: -5}, "-5"},
		{Value{Kind: KindUnsigned, Unsigned: 5}, "5"},
		{Value{Kind: KindVoid}, "void"},
		{NameValue("foo"), "foo"},
	}
	for _, c := range cases {
		if got := c.v.String(); got != c.want {
			t.Fatalf("String() = %q, want %q", got, c.want)
		}
	}
}
