// Package simulated provides a Dispatcher that fakes geolocation lookups
// using each provider's artificial delay and error rate.
package simulated

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/upb/ip-broker/services/providers"
)

// Error codes reported through providers.CallError.
const (
	CodeSimulated = "SIMULATED"
	CodeCanceled  = "CANCELED"
)

// Response is the payload returned for every successful simulated lookup.
type Response struct {
	Provider string `json:"provider"`
	IP       string `json:"ip"`
	Location string `json:"location"`
	Country  string `json:"country"`
}

// Dispatcher sleeps for the descriptor's ArtificialDelay and then fails with
// probability SimulateErrorRate percent. It is safe for concurrent use.
type Dispatcher struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDispatcher creates a dispatcher whose failures are drawn from a
// generator seeded with seed.
func NewDispatcher(seed uint64) *Dispatcher {
	return &Dispatcher{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Dispatch implements providers.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, desc providers.Descriptor, key string) ([]byte, error) {
	if desc.ArtificialDelay > 0 {
		timer := time.NewTimer(desc.ArtificialDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, providers.NewCallError(desc.Name, CodeCanceled, "dispatch canceled", 0, ctx.Err())
		case <-timer.C:
		}
	}

	if d.shouldFail(desc.SimulateErrorRate) {
		return nil, providers.NewCallError(desc.Name, CodeSimulated, fmt.Sprintf("simulated error from %s", desc.Name), 0, nil)
	}

	return json.Marshal(Response{
		Provider: desc.Name,
		IP:       key,
		Location: "Simulated Location",
		Country:  "Simulation",
	})
}

func (d *Dispatcher) shouldFail(rate int) bool {
	rate = min(max(rate, 0), 100)
	if rate == 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.IntN(100) < rate
}
