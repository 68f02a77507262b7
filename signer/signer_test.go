package signer

import (
	"errors"
	"testing"
	"time"

	"github.com/stackerstan/go-nostr"
	"github.com/stretchr/testify/require"
)

type failingBackend struct {
	pubkeyCalls int
	signCalls   int
}

func (f *failingBackend) PublicKey() (string, error) {
	f.pubkeyCalls++
	return "", errors.New("backend offline")
}

func (f *failingBackend) Sign(event *nostr.Event) error {
	f.signCalls++
	return errors.New("backend offline")
}

func unsignedEvent() *nostr.Event {
	return &nostr.Event{
		CreatedAt: time.Now(),
		Kind:      1,
		Tags:      nostr.Tags{},
		Content:   "test",
	}
}

func TestFallbackSkipsDeadBackends(t *testing.T) {
	dead := &failingBackend{}
	local := &Local{PrivateKey: nostr.GeneratePrivateKey()}
	fallback := &Fallback{Backends: []Signer{dead, local}}

	event := unsignedEvent()
	require.NoError(t, fallback.Sign(event))
	require.Equal(t, 1, dead.signCalls)
	ok, err := event.CheckSignature()
	require.NoError(t, err)
	require.True(t, ok)

	pubkey, err := fallback.PublicKey()
	require.NoError(t, err)
	expected, err := local.PublicKey()
	require.NoError(t, err)
	require.Equal(t, expected, pubkey)
}

func TestFallbackPrefersFirstWorkingBackend(t *testing.T) {
	first := &Local{PrivateKey: nostr.GeneratePrivateKey()}
	second := &Local{PrivateKey: nostr.GeneratePrivateKey()}
	fallback := &Fallback{Backends: []Signer{first, second}}

	event := unsignedEvent()
	require.NoError(t, fallback.Sign(event))
	firstPubkey, err := first.PublicKey()
	require.NoError(t, err)
	require.Equal(t, firstPubkey, event.PubKey)
}

func TestFallbackReportsUnavailableWhenAllBackendsFail(t *testing.T) {
	fallback := &Fallback{Backends: []Signer{&failingBackend{}, &failingBackend{}}}
	err := fallback.Sign(unsignedEvent())
	require.ErrorIs(t, err, ErrSigningUnavailable)
	_, err = fallback.PublicKey()
	require.ErrorIs(t, err, ErrSigningUnavailable)
}

func TestLocalSignerProducesVerifiableSignature(t *testing.T) {
	local := &Local{PrivateKey: nostr.GeneratePrivateKey()}
	event := unsignedEvent()
	require.NoError(t, local.Sign(event))
	require.Len(t, event.ID, 64)
	require.Len(t, event.Sig, 128)
	ok, err := event.CheckSignature()
	require.NoError(t, err)
	require.True(t, ok)
}
