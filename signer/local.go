package signer

import (
	"errors"

	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
)

// Local signs with the wallet private key held on this machine.
type Local struct {
	//PrivateKey overrides the wallet key when set. Used by tests.
	PrivateKey string
}

func (l *Local) key() (string, error) {
	if len(l.PrivateKey) > 0 {
		return l.PrivateKey, nil
	}
	if !btcradar.HaveWallet() {
		return "", errors.New("no local private key available")
	}
	return btcradar.MyWallet().PrivateKey, nil
}

func (l *Local) PublicKey() (btcradar.Account, error) {
	if len(l.PrivateKey) > 0 {
		pk, err := nostr.GetPublicKey(l.PrivateKey)
		if err != nil {
			return "", err
		}
		return pk, nil
	}
	if !btcradar.HaveWallet() {
		return "", errors.New("no local private key available")
	}
	return btcradar.MyWallet().Account, nil
}

func (l *Local) Sign(event *nostr.Event) error {
	k, err := l.key()
	if err != nil {
		return err
	}
	if len(event.PubKey) == 0 {
		pk, err := l.PublicKey()
		if err != nil {
			return err
		}
		event.PubKey = pk
	}
	return event.Sign(k)
}
