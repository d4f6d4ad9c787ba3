package rigctl

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff is jittered exponential delay between watch reconnects.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // ±fraction of the computed delay

	attempt int
	mu      sync.Mutex
}

// DefaultBackoff starts at 250ms and caps at 30s with ±20% jitter.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Min:    250 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay for the current attempt and advances it.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := math.Min(float64(b.Min)*math.Pow(b.Factor, float64(b.attempt)), float64(b.Max))
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	d = math.Max(float64(b.Min), math.Min(d, float64(b.Max)))

	b.attempt++
	return time.Duration(d)
}

// Reset is called once a connection has delivered its initial status.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
