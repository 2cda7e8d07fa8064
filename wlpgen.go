package tsload

import (
	"math"

	"github.com/myaut/tsload/tsrand"
)

// ParamGen synthesizes one parameter's value for each freshly created
// request (spec.md §4.3). Workload-level parameters are generated once at
// configuration and stay fixed; only request-level parameters use a ParamGen
// per request.
type ParamGen interface {
	// Name is the parameter field this generator fills.
	Name() string
	// Generate produces the next value for a new request.
	Generate() any
}

// RandomVariateParamGen draws each value from a tsrand.Variate over a
// tsrand.Generator.
type RandomVariateParamGen struct {
	Field   string
	Gen     tsrand.Generator
	Variate tsrand.Variate
}

func (g *RandomVariateParamGen) Name() string { return g.Field }

func (g *RandomVariateParamGen) Generate() any {
	return g.Variate.Generate(g.Gen)
}

// ProbabilityBucket is one entry of a ProbabilityMapParamGen's table: values
// are drawn round-robin whenever this bucket is selected.
type ProbabilityBucket struct {
	CumulativeProbability float64
	Values                []any
}

// ProbabilityMapParamGen picks a value from a discrete set using a sorted
// cumulative-probability table: an internal generator draws uniform [0,1),
// binary search selects the bucket, and values within a bucket are drawn
// round-robin (spec.md §4.3).
type ProbabilityMapParamGen struct {
	Field   string
	Gen     tsrand.Generator
	Buckets []ProbabilityBucket

	cursors []int
}

// NewProbabilityMapParamGen validates that bucket cumulative probabilities
// sum to 1.0 within 1e-6 (spec.md §4.3, §8 property 8) before returning the
// generator.
func NewProbabilityMapParamGen(field string, gen tsrand.Generator, buckets []ProbabilityBucket) (*ProbabilityMapParamGen, error) {
	if len(buckets) == 0 {
		return nil, newErr(ErrInvalidValue, "NewProbabilityMapParamGen", field, "probability map has no buckets")
	}
	last := buckets[len(buckets)-1].CumulativeProbability
	if math.Abs(last-1.0) > 1e-6 {
		return nil, newErr(ErrInvalidValue, "NewProbabilityMapParamGen", field, "cumulative probabilities do not sum to 1.0")
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i].CumulativeProbability < buckets[i-1].CumulativeProbability {
			return nil, newErr(ErrInvalidValue, "NewProbabilityMapParamGen", field, "bucket cumulative probabilities must be non-decreasing")
		}
	}
	return &ProbabilityMapParamGen{
		Field:   field,
		Gen:     gen,
		Buckets: buckets,
		cursors: make([]int, len(buckets)),
	}, nil
}

func (g *ProbabilityMapParamGen) Name() string { return g.Field }

func (g *ProbabilityMapParamGen) Generate() any {
	u := g.Gen.GenerateDouble()
	idx := g.selectBucket(u)
	bucket := &g.Buckets[idx]
	if len(bucket.Values) == 0 {
		return nil
	}
	v := bucket.Values[g.cursors[idx]%len(bucket.Values)]
	g.cursors[idx]++
	return v
}

// selectBucket binary-searches the cumulative probability table for the
// first bucket whose cumulative probability is >= u.
func (g *ProbabilityMapParamGen) selectBucket(u float64) int {
	lo, hi := 0, len(g.Buckets)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if g.Buckets[mid].CumulativeProbability < u {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Generate fills a fresh parameter blob for wl, running every request-level
// ParamGen registered on it. Workload-level parameters already live in
// wl.params and are copied in unchanged (spec.md §4.3).
func Generate(wl *Workload) map[string]any {
	out := map[string]any{}
	if base, ok := wl.params.(map[string]any); ok {
		for k, v := range base {
			out[k] = v
		}
	}
	for _, gen := range wl.paramGens {
		out[gen.Name()] = gen.Generate()
	}
	return out
}
