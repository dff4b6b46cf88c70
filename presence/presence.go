package presence

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Palette is the fixed set of presence colours handed out to connections.
var Palette = []string{
	"#ff4757",
	"#ffa502",
	"#1e90ff",
	"#2ed573",
	"#eccc68",
	"#3742fa",
}

const guestNameSpace = 1000

// Allocator picks presence colours and guest names pseudo-randomly.
type Allocator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewAllocator returns an allocator seeded from the runtime's random source.
func NewAllocator() *Allocator {
	return &Allocator{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededAllocator returns a deterministic allocator.
func NewSeededAllocator(seed1, seed2 uint64) *Allocator {
	return &Allocator{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Color returns one entry of Palette.
func (a *Allocator) Color() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Palette[a.rng.IntN(len(Palette))]
}

// GuestName returns a display name for a connection without an identity.
func (a *Allocator) GuestName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("User%d", a.rng.IntN(guestNameSpace))
}
