package relayset

import (
	"fmt"

	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
)

// Subscribe opens a pooled subscription across every relay in the set and
// returns a channel of unique events plus a teardown func. The teardown must
// be called exactly once; after it returns no further events are delivered.
func (r *RelaySet) Subscribe(filters nostr.Filters) (chan nostr.Event, func()) {
	pool := nostr.NewRelayPool()
	for _, s := range r.relays {
		errchan := pool.Add(s, nostr.SimplePolicy{Read: true, Write: true})
		go func(relay string) {
			for err := range errchan {
				btcradar.LogCLI(fmt.Sprintf("x71bq: %s %s", err.Error(), relay), 2)
			}
		}(s)
	}
	_, evnts, unsub := pool.Sub(filters)
	teardown := func() {
		unsub()
		for _, s := range r.relays {
			pool.Remove(s)
		}
	}
	return nostr.Unique(evnts), teardown
}
