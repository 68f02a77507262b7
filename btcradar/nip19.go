package btcradar

import (
	"strings"

	"github.com/stackerstan/go-nostr/nip19"
)

// Bech32 key conversions. Users paste keys in whatever shape their other
// clients exported them; everything internal is hex.

func NpubToHex(npub string) (Account, bool) {
	prefix, value, err := nip19.Decode(npub)
	if err != nil || prefix != "npub" {
		return "", false
	}
	hex, ok := value.(string)
	return hex, ok
}

func HexToNpub(account Account) (string, bool) {
	npub, err := nip19.EncodePublicKey(account)
	if err != nil {
		LogCLI(err.Error(), 3)
		return "", false
	}
	return npub, true
}

func NsecToHex(nsec string) (string, bool) {
	prefix, value, err := nip19.Decode(nsec)
	if err != nil || prefix != "nsec" {
		return "", false
	}
	hex, ok := value.(string)
	return hex, ok
}

func HexToNsec(privateKey string) (string, bool) {
	nsec, err := nip19.EncodePrivateKey(privateKey)
	if err != nil {
		LogCLI(err.Error(), 3)
		return "", false
	}
	return nsec, true
}

// TranslateKey normalises an npub or hex pubkey to hex, for handlers that
// accept either.
func TranslateKey(key string) (Account, bool) {
	if strings.HasPrefix(key, "npub1") {
		return NpubToHex(key)
	}
	if len(key) == 64 {
		return key, true
	}
	return "", false
}
