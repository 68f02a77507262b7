package watcher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"btcradar/btcradar"
	"btcradar/tracking/geo"
)

type stubProvider struct {
	mutex      sync.Mutex
	watchCalls int
	nextID     int64
	active     map[int64]bool
	onSample   func(btcradar.PositionSample)
	onError    func(error)
	watchErr   error
}

func newStubProvider() *stubProvider {
	return &stubProvider{active: make(map[int64]bool)}
}

func (s *stubProvider) QueryPermission() (string, bool) { return geo.PermissionGranted, true }

func (s *stubProvider) RequestOnce(geo.WatchOptions) (btcradar.PositionSample, error) {
	return btcradar.PositionSample{}, nil
}

func (s *stubProvider) Watch(opts geo.WatchOptions, onSample func(btcradar.PositionSample), onError func(error)) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.watchCalls++
	if s.watchErr != nil {
		return 0, s.watchErr
	}
	s.nextID++
	s.active[s.nextID] = true
	s.onSample = onSample
	s.onError = onError
	return s.nextID, nil
}

func (s *stubProvider) Clear(id int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.active, id)
}

func (s *stubProvider) activeCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.active)
}

func (s *stubProvider) watches() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.watchCalls
}

type stubPermissions struct{ allow bool }

func (s *stubPermissions) RequestInteractive() bool { return s.allow }

type recordingSink struct {
	samples chan btcradar.PositionSample
}

func newRecordingSink() *recordingSink {
	return &recordingSink{samples: make(chan btcradar.PositionSample, 16)}
}

func (r *recordingSink) Publish(sample btcradar.PositionSample) error {
	r.samples <- sample
	return nil
}

func TestStartTwiceKeepsExactlyOneSubscription(t *testing.T) {
	provider := newStubProvider()
	w := New(provider, &stubPermissions{allow: true}, newRecordingSink())

	require.True(t, w.Start())
	require.True(t, w.Start())

	require.Equal(t, 2, provider.watches())
	require.Equal(t, 1, provider.activeCount())
	require.Equal(t, StatusWatching, w.Status())
}

func TestDeniedPermissionNeverTouchesProvider(t *testing.T) {
	provider := newStubProvider()
	w := New(provider, &stubPermissions{allow: false}, newRecordingSink())

	require.False(t, w.Start())
	require.Zero(t, provider.watches())
	require.Equal(t, StatusError, w.Status())
}

func TestSampleUpdatesCurrentAndPublishes(t *testing.T) {
	provider := newStubProvider()
	sink := newRecordingSink()
	w := New(provider, &stubPermissions{allow: true}, sink)
	require.True(t, w.Start())

	sample := btcradar.PositionSample{Latitude: 13.37, Longitude: 21.0, Accuracy: 5, Timestamp: time.Now().Unix()}
	provider.onSample(sample)

	current, ok := w.Current()
	require.True(t, ok)
	require.Equal(t, sample, current)

	select {
	case published := <-sink.samples:
		require.Equal(t, sample, published)
	case <-time.After(time.Second):
		t.Fatal("sample was never published")
	}
}

func TestStaleCallbackAfterStopIsNoop(t *testing.T) {
	provider := newStubProvider()
	w := New(provider, &stubPermissions{allow: true}, newRecordingSink())
	require.True(t, w.Start())

	stale := provider.onSample
	w.Stop()
	stale(btcradar.PositionSample{Latitude: 1})

	_, ok := w.Current()
	require.False(t, ok)
	require.Equal(t, StatusIdle, w.Status())
	require.Zero(t, provider.activeCount())
}

func TestStopIsIdempotentFromAnyState(t *testing.T) {
	provider := newStubProvider()
	w := New(provider, &stubPermissions{allow: true}, newRecordingSink())

	w.Stop()
	require.True(t, w.Start())
	provider.onError(errors.New("no fix"))
	require.Equal(t, StatusError, w.Status())
	w.Stop()
	w.Stop()
	require.Equal(t, StatusIdle, w.Status())
	require.Zero(t, provider.activeCount())
}

func TestSampleAfterErrorRestoresWatchingStatus(t *testing.T) {
	provider := newStubProvider()
	w := New(provider, &stubPermissions{allow: true}, newRecordingSink())
	require.True(t, w.Start())

	provider.onError(errors.New("no fix within deadline"))
	require.Equal(t, StatusError, w.Status())

	//the subscription survives transient errors, a later sample clears them
	provider.onSample(btcradar.PositionSample{Latitude: 1, Timestamp: time.Now().Unix()})
	require.Equal(t, StatusWatching, w.Status())
	require.Equal(t, 1, provider.activeCount())
}

func TestWatchEstablishFailure(t *testing.T) {
	provider := newStubProvider()
	provider.watchErr = errors.New("gpsd unreachable")
	w := New(provider, &stubPermissions{allow: true}, newRecordingSink())

	require.False(t, w.Start())
	require.Equal(t, StatusError, w.Status())
}

func TestMedianAccuracy(t *testing.T) {
	provider := newStubProvider()
	w := New(provider, &stubPermissions{allow: true}, newRecordingSink())
	require.True(t, w.Start())

	for _, accuracy := range []float64{4, 8, 100} {
		provider.onSample(btcradar.PositionSample{Latitude: 1, Accuracy: accuracy})
	}
	median, ok := w.MedianAccuracy()
	require.True(t, ok)
	require.Equal(t, float64(8), median)
}
