//Package relayset is best-effort fan-out over a fixed, ordered list of relays.
//Each relay is an independently operated endpoint and no single relay is
//authoritative: one relay's failure, rejection or timeout must never propagate
//to its siblings. Outcomes are only aggregated after every relay has settled.
package relayset

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
)

// PublishLinger is how long we hold a relay socket open after writing an
// event so the relay has a chance to ingest it. Soft deadline: a slow relay's
// socket is closed late but its outcome is simply not awaited past this.
const PublishLinger = time.Second

// AckTimeout is the hard per-relay bound on acknowledged publishes. Exceeding
// it counts as a relay failure even if the relay eventually accepts the event.
const AckTimeout = time.Second * 2

type Outcome struct {
	Relay string
	Err   error
}

type RelaySet struct {
	relays []string
}

// New returns a RelaySet over the configured relay list. The list is immutable
// for the life of the set.
func New() *RelaySet {
	return Use(btcradar.GetRelays())
}

func Use(relays []string) *RelaySet {
	r := make([]string, len(relays))
	copy(r, relays)
	return &RelaySet{relays: r}
}

func (r *RelaySet) Relays() []string {
	out := make([]string, len(r.relays))
	copy(out, r.relays)
	return out
}

var dialer = &websocket.Dialer{HandshakeTimeout: time.Second * 4}

// Publish fans the event out to every relay independently: connect, send,
// linger, close. No minimum-success threshold, it is genuinely best-effort.
// Blocks until all relays have settled and returns their outcomes.
func (r *RelaySet) Publish(event nostr.Event, linger time.Duration) []Outcome {
	outcomes := make(chan Outcome, len(r.relays))
	wait := deadlock.WaitGroup{}
	for _, s := range r.relays {
		wait.Add(1)
		go func(relay string) {
			defer wait.Done()
			outcomes <- Outcome{Relay: relay, Err: sendAndLinger(relay, event, linger)}
		}(s)
	}
	wait.Wait()
	close(outcomes)
	var collected []Outcome
	for o := range outcomes {
		if o.Err != nil {
			btcradar.LogCLI(fmt.Sprintf("failed to publish %s to %s: %s", event.ID, o.Relay, o.Err.Error()), 3)
		}
		collected = append(collected, o)
	}
	return collected
}

func sendAndLinger(relay string, event nostr.Event, linger time.Duration) error {
	conn, _, err := dialer.Dial(relay, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	frame, err := json.Marshal([]interface{}{"EVENT", event})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(linger))
	if err = conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	//give the relay a moment to ingest before hanging up
	time.Sleep(linger)
	return nil
}

// PublishWait is the zap path: each relay must acknowledge the event with an
// OK frame within the timeout or it counts as failed. Returns the success
// count and the identifiers of every relay that failed.
func (r *RelaySet) PublishWait(event nostr.Event, timeout time.Duration) (successes int, failed []string) {
	outcomes := make(chan Outcome, len(r.relays))
	wait := deadlock.WaitGroup{}
	for _, s := range r.relays {
		wait.Add(1)
		go func(relay string) {
			defer wait.Done()
			outcomes <- Outcome{Relay: relay, Err: sendAndAwaitOK(relay, event, timeout)}
		}(s)
	}
	wait.Wait()
	close(outcomes)
	for o := range outcomes {
		if o.Err != nil {
			btcradar.LogCLI(fmt.Sprintf("relay %s did not accept %s: %s", o.Relay, event.ID, o.Err.Error()), 3)
			failed = append(failed, o.Relay)
			continue
		}
		successes++
	}
	return successes, failed
}

func sendAndAwaitOK(relay string, event nostr.Event, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	//the deadline covers the handshake too, a relay that stalls the upgrade
	//must not hold the caller past the bound
	hardDialer := &websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := hardDialer.Dial(relay, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	frame, err := json.Marshal([]interface{}{"EVENT", event})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(deadline)
	if err = conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	conn.SetReadDeadline(deadline)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var raw []json.RawMessage
		if err := json.Unmarshal(msg, &raw); err != nil || len(raw) < 3 {
			continue
		}
		var label string
		if err := json.Unmarshal(raw[0], &label); err != nil || label != "OK" {
			continue
		}
		var id string
		json.Unmarshal(raw[1], &id)
		if id != event.ID {
			continue
		}
		var accepted bool
		json.Unmarshal(raw[2], &accepted)
		if !accepted {
			return fmt.Errorf("relay rejected event %s", event.ID)
		}
		return nil
	}
}
