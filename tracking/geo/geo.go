//Package geo abstracts the platform positioning subsystem behind a Provider so
//the watcher and permission tracker can be driven by stubs in tests. The real
//implementation speaks the gpsd wire protocol.
package geo

import (
	"time"

	"btcradar/btcradar"
)

// Permission states as reported by the platform.
const (
	PermissionGranted = "granted"
	PermissionPrompt  = "prompt"
	PermissionDenied  = "denied"
)

type WatchOptions struct {
	HighAccuracy bool
	//Timeout is the per-sample deadline: if no fix arrives within it the
	//watch surfaces an error (the watch itself stays up).
	Timeout time.Duration
	//MaximumAge is the oldest cached fix we will accept.
	MaximumAge time.Duration
}

// DefaultWatchOptions balances freshness against device battery/radio cost.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		HighAccuracy: true,
		Timeout:      time.Second * 15,
		MaximumAge:   time.Second * 5,
	}
}

type Provider interface {
	//QueryPermission reports the current permission state without prompting.
	//ok is false when the platform lacks permission-query semantics entirely;
	//callers must then degrade to assuming "prompt".
	QueryPermission() (state string, ok bool)
	//RequestOnce performs one interactive position request. On platforms with
	//a grant dialog this is what triggers it.
	RequestOnce(opts WatchOptions) (btcradar.PositionSample, error)
	//Watch establishes a continuous position subscription and returns its id.
	//Callbacks fire from the provider's own goroutine.
	Watch(opts WatchOptions, onSample func(btcradar.PositionSample), onError func(error)) (int64, error)
	//Clear cancels the subscription with the given id. Safe to call twice.
	Clear(id int64)
}
