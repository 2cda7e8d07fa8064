// Package tsrand implements the random generator and random variate class
// tables used by workload parameter generation and interarrival-time
// scheduling (spec.md §4.2). Generator classes produce raw integer/floating
// streams; Variate classes transform a Generator's stream into a value drawn
// from a particular probability distribution.
package tsrand

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// Generator produces a raw stream of pseudo-random values. Implementations
// need not be safe for concurrent use by multiple goroutines; callers that
// share a Generator across workers must serialize access themselves (the
// engine gives each scheduler instance its own Generator for this reason).
type Generator interface {
	// Class reports the registered class name the Generator was created from.
	Class() string
	// Seed reports the seed the Generator was created with.
	Seed() int64
	// GenerateInt returns the next raw 64-bit value in the stream.
	GenerateInt() int64
	// GenerateDouble returns the next value in the stream as a float64 in [0, 1).
	GenerateDouble() float64
}

// GeneratorFactory builds a Generator from a seed. A seed of 0 means "pick one
// unpredictably"; factories that can't honor an explicit seed (devrandom)
// still accept the parameter but may ignore it beyond using it as an initial
// mix-in.
type GeneratorFactory func(seed int64) (Generator, error)

var (
	generatorMu       sync.RWMutex
	generatorFactories = map[string]GeneratorFactory{}
)

func init() {
	RegisterGenerator("lcg", newLCGGenerator)
	RegisterGenerator("libc", newLibcGenerator)
	RegisterGenerator("devrandom", newDevRandomGenerator)
}

// RegisterGenerator adds a named generator class to the registry. Registering
// a class that already exists replaces it; this lets a caller substitute a
// test double for "devrandom" without touching the built-ins.
func RegisterGenerator(class string, factory GeneratorFactory) {
	generatorMu.Lock()
	defer generatorMu.Unlock()
	generatorFactories[class] = factory
}

// NewGenerator builds a Generator of the named class. Returns an error if the
// class is unknown (spec.md §4.2's INVALID_PARAM case for generator construction).
func NewGenerator(class string, seed int64) (Generator, error) {
	generatorMu.RLock()
	factory, ok := generatorFactories[class]
	generatorMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tsrand: unknown generator class %q", class)
	}
	return factory(seed)
}

// lcgGenerator is a portable linear congruential generator. It exists so a
// run can be reproduced bit-for-bit across platforms and Go versions given
// the same seed, independent of whatever math/rand/v2's algorithm happens to
// be at the time (the original C engine shipped an equivalent portable LCG
// for the same reason).
type lcgGenerator struct {
	seed  int64
	state uint64
}

const (
	lcgMultiplier = 6364136223846793005
	lcgIncrement  = 1442695040888963407
)

func newLCGGenerator(seed int64) (Generator, error) {
	if seed == 0 {
		seed = int64(cryptoSeed())
	}
	return &lcgGenerator{seed: seed, state: uint64(seed)}, nil
}

func (g *lcgGenerator) Class() string { return "lcg" }
func (g *lcgGenerator) Seed() int64   { return g.seed }

func (g *lcgGenerator) next() uint64 {
	g.state = g.state*lcgMultiplier + lcgIncrement
	return g.state
}

func (g *lcgGenerator) GenerateInt() int64 {
	return int64(g.next())
}

func (g *lcgGenerator) GenerateDouble() float64 {
	// Top 53 bits give a uniform float64 in [0, 1) with full mantissa precision.
	return float64(g.next()>>11) / (1 << 53)
}

// libcGenerator wraps math/rand/v2, standing in for "whatever the platform
// libc PRNG would give you" in the original — not reproducible across Go
// versions, used when the caller only cares about statistical properties.
type libcGenerator struct {
	seed int64
	rng  *rand.Rand
}

func newLibcGenerator(seed int64) (Generator, error) {
	if seed == 0 {
		seed = int64(cryptoSeed())
	}
	src := rand.NewPCG(uint64(seed), uint64(seed)>>1|1)
	return &libcGenerator{seed: seed, rng: rand.New(src)}, nil
}

func (g *libcGenerator) Class() string         { return "libc" }
func (g *libcGenerator) Seed() int64           { return g.seed }
func (g *libcGenerator) GenerateInt() int64    { return g.rng.Int64() }
func (g *libcGenerator) GenerateDouble() float64 { return g.rng.Float64() }

// devRandomGenerator draws every value straight from crypto/rand. It cannot
// reproduce a stream given a seed — the seed parameter is accepted for
// interface uniformity and reported back by Seed, but does not affect output.
type devRandomGenerator struct {
	seed int64
}

func newDevRandomGenerator(seed int64) (Generator, error) {
	return &devRandomGenerator{seed: seed}, nil
}

func (g *devRandomGenerator) Class() string { return "devrandom" }
func (g *devRandomGenerator) Seed() int64   { return g.seed }

func (g *devRandomGenerator) GenerateInt() int64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

func (g *devRandomGenerator) GenerateDouble() float64 {
	v := uint64(g.GenerateInt())
	return float64(v>>11) / (1 << 53)
}

func cryptoSeed() uint64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return uint64(math.Float64bits(1.0))
	}
	return binary.LittleEndian.Uint64(buf[:])
}
