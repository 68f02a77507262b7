//Package signer abstracts "sign an event" over two interchangeable mechanisms:
//an external signer daemon (the user's own key custodian, tried first) and the
//local wallet private key. Callers take a Signer as an explicit capability
//rather than reaching for ambient state, so tests can inject fakes.
package signer

import (
	"errors"

	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
)

type Signer interface {
	PublicKey() (btcradar.Account, error)
	//Sign sets the event ID and signature in place. The event MUST NOT be
	//mutated after signing.
	Sign(event *nostr.Event) error
}

// ErrSigningUnavailable means no backend could produce a signature. This is
// terminal for the attempt and usually means missing credentials, so it must
// be surfaced to the caller, never dropped.
var ErrSigningUnavailable = errors.New("no signer backend could produce a signature")

// Fallback tries each backend in order and settles on the first that works.
type Fallback struct {
	Backends []Signer
}

// Default is the policy used by publish and zap paths: extension daemon first,
// local wallet key second.
func Default() *Fallback {
	return &Fallback{Backends: []Signer{
		NewExtension(btcradar.MakeOrGetConfig().GetString("signerAddr")),
		&Local{},
	}}
}

func (f *Fallback) PublicKey() (btcradar.Account, error) {
	for _, b := range f.Backends {
		if pk, err := b.PublicKey(); err == nil {
			return pk, nil
		}
	}
	return "", ErrSigningUnavailable
}

func (f *Fallback) Sign(event *nostr.Event) error {
	for _, b := range f.Backends {
		err := b.Sign(event)
		if err == nil {
			ok, sigErr := event.CheckSignature()
			if ok && sigErr == nil {
				return nil
			}
			err = errors.New("backend returned an event with an invalid signature")
		}
		btcradar.LogCLI("signer backend failed, trying next: "+err.Error(), 3)
	}
	return ErrSigningUnavailable
}
