//Package watcher owns the continuous position subscription. There is at most
//one active subscription at any time: Start always tears down the previous
//watch before establishing a new one, and a generation token makes callbacks
//from a stale subscription no-ops rather than racing the new one.
package watcher

import (
	"github.com/montanaflynn/stats"
	"github.com/sasha-s/go-deadlock"
	"btcradar/btcradar"
	"btcradar/tracking/geo"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusRequesting Status = "requesting"
	StatusWatching   Status = "watching"
	StatusError      Status = "error"
)

// PermissionRequester is the slice of the permission tracker the watcher
// needs. Start never touches the position provider when this returns false.
type PermissionRequester interface {
	RequestInteractive() bool
}

// Sink receives each successful sample. Publish failures must not stop future
// sampling, so the watcher calls it fire-and-forget.
type Sink interface {
	Publish(sample btcradar.PositionSample) error
}

const accuracyWindow = 32

type Watcher struct {
	provider    geo.Provider
	permissions PermissionRequester
	sink        Sink
	opts        geo.WatchOptions

	mutex      deadlock.Mutex
	status     Status
	watchID    int64
	generation int64
	current    btcradar.PositionSample
	haveFix    bool
	accuracies []float64
}

func New(provider geo.Provider, permissions PermissionRequester, sink Sink) *Watcher {
	return &Watcher{
		provider:    provider,
		permissions: permissions,
		sink:        sink,
		opts:        geo.DefaultWatchOptions(),
		status:      StatusIdle,
	}
}

func (w *Watcher) Status() Status {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.status
}

// Current returns the last known position. There is no history buffer.
func (w *Watcher) Current() (btcradar.PositionSample, bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.current, w.haveFix
}

// MedianAccuracy reports the 50th percentile accuracy over the recent sample
// window, in metres.
func (w *Watcher) MedianAccuracy() (float64, bool) {
	w.mutex.Lock()
	floats := make([]float64, len(w.accuracies))
	copy(floats, w.accuracies)
	w.mutex.Unlock()
	if len(floats) == 0 {
		return 0, false
	}
	a, err := stats.Percentile(floats, 50)
	if err != nil {
		return 0, false
	}
	return a, true
}

// Start requests permission and establishes the position subscription. It
// returns false without touching the provider when permission is refused.
func (w *Watcher) Start() bool {
	//clear any existing watch before starting a new one
	w.Stop()

	w.mutex.Lock()
	w.status = StatusRequesting
	w.mutex.Unlock()

	if !w.permissions.RequestInteractive() {
		w.mutex.Lock()
		w.status = StatusError
		w.mutex.Unlock()
		return false
	}

	w.mutex.Lock()
	w.generation++
	generation := w.generation
	w.mutex.Unlock()

	id, err := w.provider.Watch(w.opts,
		func(sample btcradar.PositionSample) { w.onSample(generation, sample) },
		func(err error) { w.onError(generation, err) },
	)
	if err != nil {
		btcradar.LogCLI("could not establish position watch: "+err.Error(), 2)
		w.mutex.Lock()
		w.status = StatusError
		w.mutex.Unlock()
		return false
	}

	w.mutex.Lock()
	//Stop may have run while we were establishing the watch
	if w.generation != generation {
		w.mutex.Unlock()
		w.provider.Clear(id)
		return false
	}
	w.watchID = id
	w.status = StatusWatching
	w.mutex.Unlock()
	return true
}

// Stop cancels the active subscription, if any. Idempotent and safe to call
// from any state, including Error.
func (w *Watcher) Stop() {
	w.mutex.Lock()
	id := w.watchID
	w.watchID = 0
	w.generation++
	w.status = StatusIdle
	w.mutex.Unlock()
	if id != 0 {
		w.provider.Clear(id)
	}
}

func (w *Watcher) onSample(generation int64, sample btcradar.PositionSample) {
	w.mutex.Lock()
	if w.generation != generation {
		//stale callback from a cleared subscription
		w.mutex.Unlock()
		return
	}
	//a sample arriving after a transient watch error means the stream recovered
	w.status = StatusWatching
	w.current = sample
	w.haveFix = true
	if sample.Accuracy > 0 {
		w.accuracies = append(w.accuracies, sample.Accuracy)
		if len(w.accuracies) > accuracyWindow {
			w.accuracies = w.accuracies[len(w.accuracies)-accuracyWindow:]
		}
	}
	w.mutex.Unlock()
	//fire-and-forget: a failed publish must never stop future sampling
	go func() {
		if err := w.sink.Publish(sample); err != nil {
			btcradar.LogCLI("could not publish position sample: "+err.Error(), 2)
		}
	}()
}

func (w *Watcher) onError(generation int64, err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.generation != generation {
		return
	}
	btcradar.LogCLI("position watch error: "+err.Error(), 2)
	w.status = StatusError
}
