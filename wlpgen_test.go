package tsload

import (
	"testing"

	"github.com/myaut/tsload/tsrand"
)

func TestProbabilityMapRejectsBadSum(t *testing.T) {
	gen, _ := tsrand.NewGenerator("lcg", 1)
	_, err := NewProbabilityMapParamGen("region", gen, []ProbabilityBucket{
		{CumulativeProbability: 0.5, Values: []any{"a"}},
		{CumulativeProbability: 0.8, Values: []any{"b"}},
	})
	if err == nil {
		t.Fatal("expected error when cumulative probabilities don't sum to 1.0")
	}
}

func TestProbabilityMapSelectsAndRoundRobins(t *testing.T) {
	gen := &constGenerator{double: 0.1}
	pg, err := NewProbabilityMapParamGen("region", gen, []ProbabilityBucket{
		{CumulativeProbability: 0.3, Values: []any{"us-east", "us-west"}},
		{CumulativeProbability: 1.0, Values: []any{"eu"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	first := pg.Generate()
	second := pg.Generate()
	if first != "us-east" || second != "us-west" {
		t.Fatalf("expected round-robin within bucket, got %v, %v", first, second)
	}

	gen.double = 0.9
	third := pg.Generate()
	if third != "eu" {
		t.Fatalf("expected eu bucket for u=0.9, got %v", third)
	}
}

func TestRandomVariateParamGenName(t *testing.T) {
	gen, _ := tsrand.NewGenerator("lcg", 1)
	variate, _ := tsrand.NewVariate("uniform", map[string]float64{"min": 0, "max": 1})
	pg := &RandomVariateParamGen{Field: "size", Gen: gen, Variate: variate}
	if pg.Name() != "size" {
		t.Errorf("Name() = %q, want size", pg.Name())
	}
	v := pg.Generate().(float64)
	if v < 0 || v >= 1 {
		t.Errorf("Generate() = %v, want [0,1)", v)
	}
}
