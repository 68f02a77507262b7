package permission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"btcradar/btcradar"
	"btcradar/tracking/geo"
)

type stubProvider struct {
	state        string
	hasQuery     bool
	requestCalls int
	requestErr   error
}

func (s *stubProvider) QueryPermission() (string, bool) { return s.state, s.hasQuery }

func (s *stubProvider) RequestOnce(geo.WatchOptions) (btcradar.PositionSample, error) {
	s.requestCalls++
	return btcradar.PositionSample{}, s.requestErr
}

func (s *stubProvider) Watch(geo.WatchOptions, func(btcradar.PositionSample), func(error)) (int64, error) {
	return 0, errors.New("not implemented")
}

func (s *stubProvider) Clear(int64) {}

func newTestTracker(provider geo.Provider, loggedIn bool) *Tracker {
	t := NewTracker(provider)
	t.SessionEstablished = func() bool { return loggedIn }
	return t
}

func TestUnauthenticatedSessionShortCircuitsToDenied(t *testing.T) {
	provider := &stubProvider{state: geo.PermissionGranted, hasQuery: true}
	tracker := newTestTracker(provider, false)

	require.Equal(t, geo.PermissionDenied, tracker.Check().State)
	require.False(t, tracker.RequestInteractive())
	require.Zero(t, provider.requestCalls)
}

func TestMissingQueryCapabilityDegradesToPrompt(t *testing.T) {
	tracker := newTestTracker(&stubProvider{hasQuery: false}, true)
	state := tracker.Check()
	require.Equal(t, geo.PermissionPrompt, state.State)
	require.False(t, state.Granted)
}

func TestGrantedResolvesWithoutPrompting(t *testing.T) {
	provider := &stubProvider{state: geo.PermissionGranted, hasQuery: true}
	tracker := newTestTracker(provider, true)

	require.True(t, tracker.RequestInteractive())
	require.Zero(t, provider.requestCalls)
	require.True(t, tracker.Cached().Granted)
}

func TestDeniedResolvesWithoutPrompting(t *testing.T) {
	provider := &stubProvider{state: geo.PermissionDenied, hasQuery: true}
	tracker := newTestTracker(provider, true)

	require.False(t, tracker.RequestInteractive())
	require.Zero(t, provider.requestCalls)
}

func TestPromptTriggersExactlyOneInteractiveRequest(t *testing.T) {
	provider := &stubProvider{state: geo.PermissionPrompt, hasQuery: true}
	tracker := newTestTracker(provider, true)

	require.True(t, tracker.RequestInteractive())
	require.Equal(t, 1, provider.requestCalls)
	require.True(t, tracker.Cached().Granted)
	require.Equal(t, geo.PermissionGranted, tracker.Cached().State)
}

func TestRefusedInteractiveRequestCachesDenied(t *testing.T) {
	provider := &stubProvider{state: geo.PermissionPrompt, hasQuery: true, requestErr: errors.New("user said no")}
	tracker := newTestTracker(provider, true)

	require.False(t, tracker.RequestInteractive())
	require.Equal(t, geo.PermissionDenied, tracker.Cached().State)
	require.False(t, tracker.Cached().Granted)
}
