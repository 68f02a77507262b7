//Package roster maintains the live collection of peer locations: one
//long-lived subscription on the shared event-space, merged by identity in
//arrival order, with profile enrichment fetched out of band so an entry is
//visible immediately with bare coordinates.
package roster

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
	"btcradar/messaging/profiles"
	"btcradar/messaging/relayset"
)

var jsonfast = jsoniter.ConfigCompatibleWithStandardLibrary

// Subscriber owns the location subscription. The handle lives on the instance
// so a second Start cannot create a second subscription.
type Subscriber struct {
	Relays  *relayset.RelaySet
	SpaceID string
	//GroupID scopes the encrypted location feed. Empty means plaintext only.
	GroupID string
	//Enrich resolves profile metadata for unseen identities. Swappable in tests.
	Enrich func(btcradar.Account) (btcradar.Profile, bool)
	//Self identifies the local participant so we only decrypt copies addressed
	//to us. Swappable in tests; defaults to the wallet account.
	Self func() btcradar.Account
	//Decrypt opens a nip04 ciphertext from the named peer. Swappable in tests.
	Decrypt func(peer btcradar.Account, ciphertext string) (string, bool)

	seen     func(message interface{}) bool
	teardown func()
}

func NewSubscriber(relays *relayset.RelaySet, spaceID string) *Subscriber {
	return &Subscriber{
		Relays:  relays,
		SpaceID: spaceID,
		Enrich:  profiles.Fetch,
		Self:    func() btcradar.Account { return btcradar.MyWallet().Account },
		Decrypt: walletDecrypt,
		seen:    btcradar.MakeNewInverseBloomFilter(10000),
	}
}

// walletDecrypt opens a ciphertext with the local wallet key.
func walletDecrypt(peer btcradar.Account, ciphertext string) (string, bool) {
	shared, err := nip04.ComputeSharedSecret(btcradar.MyWallet().PrivateKey, peer)
	if err != nil {
		btcradar.LogCLI("could not compute shared secret with "+peer+": "+err.Error(), 3)
		return "", false
	}
	plaintext, err := nip04.Decrypt(ciphertext, shared)
	if err != nil {
		return "", false
	}
	return plaintext, true
}

// Start opens the subscription and consumes events until Shutdown. Exactly
// one subscription per Subscriber: calling Start on a running instance is an
// error, not a second subscription.
func (s *Subscriber) Start() error {
	if s.teardown != nil {
		return errors.New("already subscribed")
	}
	filters := nostr.Filters{nostr.Filter{
		Kinds: []int{btcradar.KindLocation},
		Tags:  nostr.TagMap{"g": []string{s.SpaceID}},
	}}
	if len(s.GroupID) > 0 {
		filters = append(filters, nostr.Filter{
			Kinds: []int{btcradar.KindEncryptedLocation},
			Tags:  nostr.TagMap{"g": []string{s.GroupID}, "t": []string{"location"}},
		})
	}
	events, teardown := s.Relays.Subscribe(filters)
	s.teardown = teardown
	go func() {
		for event := range events {
			s.HandleEvent(event)
		}
	}()
	return nil
}

// Shutdown tears the subscription down. Safe to call on a stopped instance.
func (s *Subscriber) Shutdown() {
	if s.teardown == nil {
		return
	}
	s.teardown()
	s.teardown = nil
}

// HandleEvent merges one incoming location event into the roster. Malformed
// or unverifiable events are discarded silently: a bad peer event must never
// crash the subscriber loop or mutate the roster.
func (s *Subscriber) HandleEvent(event nostr.Event) {
	if event.Kind != btcradar.KindLocation && event.Kind != btcradar.KindEncryptedLocation {
		return
	}
	if s.seen != nil && !s.seen(event.ID) {
		return
	}
	if ok, err := event.CheckSignature(); !ok || err != nil {
		btcradar.LogCLI("discarding location event with bad signature from "+event.PubKey, 3)
		return
	}
	content := event.Content
	if event.Kind == btcradar.KindEncryptedLocation {
		plaintext, ok := s.openEncrypted(event)
		if !ok {
			return
		}
		content = plaintext
	}
	var sample btcradar.PositionSample
	if err := jsonfast.UnmarshalFromString(content, &sample); err != nil {
		//silent discard, peers can put anything on a relay
		btcradar.LogCLI("discarding unparseable location event "+event.ID, 3)
		return
	}
	_, known := Get(event.PubKey)
	currentState.merge(Entry{
		Pubkey:      event.PubKey,
		Latitude:    sample.Latitude,
		Longitude:   sample.Longitude,
		Accuracy:    sample.Accuracy,
		LastUpdated: sample.Timestamp,
	})
	if !known && s.Enrich != nil {
		//enrichment must not block roster visibility
		go func(account btcradar.Account) {
			if profile, ok := s.Enrich(account); ok {
				currentState.enrich(account, profile)
			}
		}(event.PubKey)
	}
}

// openEncrypted decrypts a group location copy, but only when it is addressed
// to us: everyone in the group receives everyone else's copies off the relay.
func (s *Subscriber) openEncrypted(event nostr.Event) (string, bool) {
	if s.Self == nil || s.Decrypt == nil {
		return "", false
	}
	var recipients []string
	for _, tag := range event.Tags.GetAll([]string{"p"}) {
		recipients = append(recipients, tag.Value())
	}
	if !btcradar.Contains(recipients, s.Self()) {
		return "", false
	}
	return s.Decrypt(event.PubKey, event.Content)
}
