package tsrand

import "testing"

func TestNewGeneratorKnownClasses(t *testing.T) {
	for _, class := range []string{"lcg", "libc", "devrandom"} {
		gen, err := NewGenerator(class, 42)
		if err != nil {
			t.Fatalf("NewGenerator(%q): %v", class, err)
		}
		if gen.Class() != class {
			t.Errorf("Class() = %q, want %q", gen.Class(), class)
		}
	}
}

func TestNewGeneratorUnknownClass(t *testing.T) {
	if _, err := NewGenerator("not-a-class", 1); err == nil {
		t.Fatal("expected error for unknown generator class")
	}
}

func TestLCGGeneratorIsReproducible(t *testing.T) {
	a, err := NewGenerator("lcg", 12345)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewGenerator("lcg", 12345)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		av, bv := a.GenerateInt(), b.GenerateInt()
		if av != bv {
			t.Fatalf("draw %d diverged: %d != %d", i, av, bv)
		}
	}
}

func TestLCGGeneratorDifferentSeedsDiverge(t *testing.T) {
	a, _ := NewGenerator("lcg", 1)
	b, _ := NewGenerator("lcg", 2)

	if a.GenerateInt() == b.GenerateInt() {
		t.Fatal("expected different seeds to produce different first draws")
	}
}

func TestGenerateDoubleInUnitInterval(t *testing.T) {
	for _, class := range []string{"lcg", "libc", "devrandom"} {
		gen, err := NewGenerator(class, 7)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 1000; i++ {
			v := gen.GenerateDouble()
			if v < 0 || v >= 1 {
				t.Fatalf("%s: GenerateDouble() = %v, want [0,1)", class, v)
			}
		}
	}
}

func TestRegisterGeneratorOverride(t *testing.T) {
	called := false
	RegisterGenerator("test-stub", func(seed int64) (Generator, error) {
		called = true
		return &lcgGenerator{seed: seed, state: uint64(seed)}, nil
	})
	if _, err := NewGenerator("test-stub", 1); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected custom factory to be invoked")
	}
}
