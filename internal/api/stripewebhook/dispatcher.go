package stripewebhooks

import (
	"context"
	"sync"
	"time"

	"finchart-app/pkg/logging"

	"github.com/stripe/stripe-go/v75"
)

// Dispatcher runs webhook projections after the provider has already been
// acknowledged. Failures land in the log and the failure metric; recovery
// relies on the provider's at-least-once redelivery and, when configured,
// the sync-failed topic.
type Dispatcher struct {
	events  chan stripe.Event
	process func(ctx context.Context, event stripe.Event) error
	wg      sync.WaitGroup
}

func NewDispatcher(buffer int, process func(ctx context.Context, event stripe.Event) error) *Dispatcher {
	d := &Dispatcher{
		events:  make(chan stripe.Event, buffer),
		process: process,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue hands an event to the worker. A false return means the queue is
// full; the caller should refuse the delivery so the provider retries.
func (d *Dispatcher) Enqueue(event stripe.Event) bool {
	select {
	case d.events <- event:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := d.process(ctx, event); err != nil {
			logging.Errorf("webhook: processing %s (%s) failed: %v", event.ID, event.Type, err)
		}
		cancel()
	}
}

// Stop drains the queue and waits for the worker. Call only after the HTTP
// server has stopped accepting webhook requests.
func (d *Dispatcher) Stop() {
	close(d.events)
	d.wg.Wait()
}
