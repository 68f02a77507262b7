package groups

import (
	"errors"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stackerstan/go-nostr"
	"github.com/stackerstan/go-nostr/nip19"
	"btcradar/btcradar"
	"btcradar/messaging/relayset"
	"btcradar/signer"
)

var jsonfast = jsoniter.ConfigCompatibleWithStandardLibrary

// Service publishes group definitions and membership joins, and keeps the
// local group database fed from the relays.
type Service struct {
	Signer signer.Signer
	Relays *relayset.RelaySet
	//Self identifies the local participant on membership events. Swappable in
	//tests; defaults to the wallet account.
	Self func() btcradar.Account

	seen      func(message interface{}) bool
	teardowns []func()
}

func NewService(s signer.Signer, r *relayset.RelaySet) *Service {
	return &Service{
		Signer: s,
		Relays: r,
		Self:   func() btcradar.Account { return btcradar.MyWallet().Account },
		seen:   btcradar.MakeNewInverseBloomFilter(10000),
	}
}

// Publish creates (or updates) a group definition on the relays and returns
// its id. Every group is tagged so the group subscription can find it.
func (s *Service) Publish(name, description string, topicTags []string) (string, error) {
	organizer, err := s.Signer.PublicKey()
	if err != nil {
		return "", err
	}
	content, err := jsonfast.MarshalToString(Group{
		Name:        name,
		Description: description,
		Organizer:   organizer,
		Tags:        topicTags,
	})
	if err != nil {
		return "", err
	}
	tags := nostr.Tags{[]string{"t", "meetup"}, []string{"t", "btcradar"}}
	for _, topic := range topicTags {
		if !btcradar.Contains([]string{"meetup", "btcradar"}, topic) {
			tags = append(tags, []string{"t", topic})
		}
	}
	event := nostr.Event{
		CreatedAt: time.Now(),
		Kind:      btcradar.KindGroup,
		Tags:      tags,
		Content:   content,
	}
	if err := s.Signer.Sign(&event); err != nil {
		return "", err
	}
	successes, failed := s.Relays.PublishWait(event, relayset.AckTimeout)
	if successes == 0 {
		return "", errors.New("no relay accepted the group definition: " + strings.Join(failed, ", "))
	}
	currentState.upsertGroup(Group{
		ID:          event.ID,
		Name:        name,
		Description: description,
		Organizer:   organizer,
		Tags:        topicTags,
	})
	return event.ID, nil
}

// membershipContent mirrors the wire shape of a join event's content.
type membershipContent struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
	Invited   bool   `json:"inviteLink,omitempty"`
}

// Join publishes a membership event for the local participant. An invite code
// is required unless the group is open (no known organizer means we cannot
// check, so the join proceeds and relays arbitrate).
func (s *Service) Join(groupID string, inviteCode string) error {
	invited := false
	if len(inviteCode) > 0 {
		decoded, ok := ParseInviteCode(inviteCode)
		if !ok || decoded != groupID {
			return errors.New("invite code does not match this group")
		}
		invited = true
	}
	content, err := jsonfast.MarshalToString(membershipContent{
		Action:    "join",
		Timestamp: time.Now().Unix(),
		Invited:   invited,
	})
	if err != nil {
		return err
	}
	event := nostr.Event{
		CreatedAt: time.Now(),
		Kind:      btcradar.KindGroupMembership,
		Tags: nostr.Tags{
			[]string{"e", groupID},
			[]string{"p", s.Self()},
		},
		Content: content,
	}
	if err := s.Signer.Sign(&event); err != nil {
		return err
	}
	successes, failed := s.Relays.PublishWait(event, relayset.AckTimeout)
	if successes == 0 {
		return errors.New("no relay accepted the join: " + strings.Join(failed, ", "))
	}
	currentState.addMember(groupID, event.PubKey, time.Now().Unix())
	return nil
}

// InviteCode produces a shareable code for the group: the bech32 note
// encoding of the group id, plus the organizer's signature over the id so a
// joiner can check the invite really came from them.
func InviteCode(group Group, privateKey string) (string, bool) {
	note, err := nip19.EncodeNote(group.ID)
	if err != nil {
		btcradar.LogCLI(err.Error(), 3)
		return "", false
	}
	sig, err := btcradar.Sign([]byte(group.ID), privateKey)
	if err != nil {
		btcradar.LogCLI(err.Error(), 3)
		return "", false
	}
	return note + ":" + sig, true
}

// ParseInviteCode validates a code and returns the group id it names. When
// the group definition is known locally, the embedded signature must verify
// against the organizer's account.
func ParseInviteCode(code string) (string, bool) {
	parts := strings.SplitN(code, ":", 2)
	prefix, value, err := nip19.Decode(parts[0])
	if err != nil || prefix != "note" {
		return "", false
	}
	groupID, ok := value.(string)
	if !ok {
		return "", false
	}
	if group, known := GetGroup(groupID); known {
		if len(parts) < 2 {
			return "", false
		}
		if !btcradar.VerifySignedHash(btcradar.Sha256(groupID), parts[1], group.Organizer) {
			return "", false
		}
	}
	return groupID, true
}

// Start opens the group and membership subscriptions. Definitions and joins
// flow into the local database until Shutdown.
func (s *Service) Start() error {
	if len(s.teardowns) > 0 {
		return errors.New("already subscribed")
	}
	events, teardown := s.Relays.Subscribe(nostr.Filters{
		nostr.Filter{
			Kinds: []int{btcradar.KindGroup},
			Tags:  nostr.TagMap{"t": []string{"meetup", "btcradar"}},
		},
		nostr.Filter{
			Kinds: []int{btcradar.KindGroupMembership},
		},
	})
	s.teardowns = append(s.teardowns, teardown)
	go func() {
		for event := range events {
			s.HandleEvent(event)
		}
	}()
	return nil
}

// Shutdown tears the subscriptions down. Safe to call on a stopped instance.
func (s *Service) Shutdown() {
	for _, teardown := range s.teardowns {
		teardown()
	}
	s.teardowns = nil
}

// HandleEvent merges one group or membership event into the database.
// Malformed events are discarded silently, same as the location subscriber.
func (s *Service) HandleEvent(event nostr.Event) {
	if s.seen != nil && !s.seen(btcradar.Sha256(event.ID+event.PubKey)) {
		return
	}
	if ok, err := event.CheckSignature(); !ok || err != nil {
		btcradar.LogCLI("discarding group event with bad signature from "+event.PubKey, 3)
		return
	}
	switch event.Kind {
	case btcradar.KindGroup:
		var g Group
		if err := jsonfast.UnmarshalFromString(event.Content, &g); err != nil {
			btcradar.LogCLI("discarding unparseable group definition "+event.ID, 3)
			return
		}
		g.ID = event.ID
		//the signer is the organizer regardless of what the content claims
		g.Organizer = event.PubKey
		currentState.upsertGroup(g)
	case btcradar.KindGroupMembership:
		var m membershipContent
		if err := jsonfast.UnmarshalFromString(event.Content, &m); err != nil {
			btcradar.LogCLI("discarding unparseable membership event "+event.ID, 3)
			return
		}
		if m.Action != "join" {
			return
		}
		groupTag := event.Tags.GetFirst([]string{"e"})
		if groupTag == nil {
			return
		}
		currentState.addMember(groupTag.Value(), event.PubKey, m.Timestamp)
	}
}
