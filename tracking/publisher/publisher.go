//Package publisher signs each position sample into a location event and fans
//it out to the relay set. Location publishing is genuinely best-effort: no
//minimum-success threshold, total failure is retried implicitly on the next
//sample. The only error worth surfacing is a failure to sign.
package publisher

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/sasha-s/go-deadlock"
	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
	"btcradar/messaging/relayset"
	"btcradar/signer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Publisher struct {
	Signer  signer.Signer
	Relays  *relayset.RelaySet
	SpaceID string
	//Linger is how long to hold each relay socket open after the write.
	Linger time.Duration
	//Members resolves a group id to its member list for encrypted sharing.
	Members func(groupID string) []btcradar.Account

	mutex      deadlock.Mutex
	shareGroup string
}

func New(s signer.Signer, r *relayset.RelaySet, spaceID string) *Publisher {
	return &Publisher{Signer: s, Relays: r, SpaceID: spaceID, Linger: relayset.PublishLinger}
}

// ShareWithGroup turns on encrypted fan-out to the group's members alongside
// the plaintext space publish. An empty id turns sharing off.
func (p *Publisher) ShareWithGroup(groupID string) {
	p.mutex.Lock()
	p.shareGroup = groupID
	p.mutex.Unlock()
}

// SharedGroup returns the group currently receiving encrypted copies, if any.
func (p *Publisher) SharedGroup() (string, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.shareGroup, len(p.shareGroup) > 0
}

// Publish builds, signs and fans out a location event for the current device.
// The returned error only reports signing failures; relay failures are logged
// and swallowed because sampling recurs every few seconds regardless.
func (p *Publisher) Publish(sample btcradar.PositionSample) error {
	content, err := json.MarshalToString(sample)
	if err != nil {
		return err
	}
	event := nostr.Event{
		CreatedAt: time.Now(),
		Kind:      btcradar.KindLocation,
		Tags:      nostr.Tags{[]string{"g", p.SpaceID}},
		Content:   content,
	}
	if err := p.Signer.Sign(&event); err != nil {
		return err
	}
	p.Relays.Publish(event, p.Linger)
	if groupID, sharing := p.SharedGroup(); sharing && p.Members != nil {
		if err := p.PublishEncrypted(sample, p.Members(groupID), groupID); err != nil {
			btcradar.LogCLI("could not share location with group "+groupID+": "+err.Error(), 2)
		}
	}
	return nil
}

// PublishEncrypted shares the sample with the listed group members only: one
// nip04 encrypted copy per member, addressed with a p tag so everyone else on
// the relay sees ciphertext. Copies fan out independently of each other.
func (p *Publisher) PublishEncrypted(sample btcradar.PositionSample, members []btcradar.Account, groupID string) error {
	content, err := json.MarshalToString(sample)
	if err != nil {
		return err
	}
	wallet := btcradar.MyWallet()
	for _, member := range members {
		if member == wallet.Account {
			continue
		}
		shared, err := nip04.ComputeSharedSecret(wallet.PrivateKey, member)
		if err != nil {
			btcradar.LogCLI("could not compute shared secret for "+member+": "+err.Error(), 3)
			continue
		}
		ciphertext, err := nip04.Encrypt(content, shared)
		if err != nil {
			btcradar.LogCLI("could not encrypt location for "+member+": "+err.Error(), 3)
			continue
		}
		event := nostr.Event{
			CreatedAt: time.Now(),
			Kind:      btcradar.KindEncryptedLocation,
			Tags: nostr.Tags{
				[]string{"p", member},
				[]string{"g", groupID},
				[]string{"t", "location"},
			},
			Content: ciphertext,
		}
		if err := p.Signer.Sign(&event); err != nil {
			return err
		}
		go p.Relays.Publish(event, p.Linger)
	}
	return nil
}
