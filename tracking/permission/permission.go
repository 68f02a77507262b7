//Package permission normalises the platform's geolocation permission handling
//to a tri-state plus a derived "granted" boolean. Watching must never start
//while the state is denied, and a prompt state requires one interactive
//request before it can resolve either way.
package permission

import (
	"time"

	"github.com/sasha-s/go-deadlock"
	"btcradar/btcradar"
	"btcradar/tracking/geo"
)

type State struct {
	State   string `json:"state"` //granted, prompt or denied
	Granted bool   `json:"granted"`
}

type Tracker struct {
	provider geo.Provider
	//SessionEstablished gates permission probing: we never probe the platform
	//for an unauthenticated session.
	SessionEstablished func() bool

	mutex  deadlock.Mutex
	cached State
}

func NewTracker(provider geo.Provider) *Tracker {
	return &Tracker{
		provider:           provider,
		SessionEstablished: btcradar.HaveWallet,
	}
}

func (t *Tracker) cache(s State) State {
	t.mutex.Lock()
	t.cached = s
	t.mutex.Unlock()
	return s
}

// Cached returns the last state observed by Check or RequestInteractive.
func (t *Tracker) Cached() State {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.cached
}

// Check queries the current permission state without prompting. Sessions
// without an identity short-circuit to denied. Platforms lacking the
// permission-query capability degrade to an always-prompt assumption so that
// functionality is never blocked outright.
func (t *Tracker) Check() State {
	if !t.SessionEstablished() {
		return t.cache(State{State: geo.PermissionDenied})
	}
	state, ok := t.provider.QueryPermission()
	if !ok {
		return t.cache(State{State: geo.PermissionPrompt})
	}
	switch state {
	case geo.PermissionGranted:
		return t.cache(State{State: geo.PermissionGranted, Granted: true})
	case geo.PermissionDenied:
		return t.cache(State{State: geo.PermissionDenied})
	default:
		return t.cache(State{State: geo.PermissionPrompt})
	}
}

// RequestInteractive triggers the OS-level grant dialog only when the current
// state is prompt or genuinely ambiguous. Already granted resolves true and
// denied resolves false, both without prompting, so users never see spurious
// repeated dialogs.
func (t *Tracker) RequestInteractive() bool {
	current := t.Check()
	switch current.State {
	case geo.PermissionGranted:
		return true
	case geo.PermissionDenied:
		return false
	}
	//one interactive position request resolves prompt to granted or denied
	_, err := t.provider.RequestOnce(geo.WatchOptions{
		HighAccuracy: true,
		Timeout:      time.Second * 10,
		MaximumAge:   0,
	})
	if err != nil {
		btcradar.LogCLI("interactive position request refused: "+err.Error(), 3)
		t.cache(State{State: geo.PermissionDenied})
		return false
	}
	t.cache(State{State: geo.PermissionGranted, Granted: true})
	return true
}
