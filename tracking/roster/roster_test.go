package roster

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/stackerstan/go-nostr"
	"github.com/stretchr/testify/require"
	"btcradar/btcradar"
)

func signedLocationEvent(t *testing.T, sk string, sample btcradar.PositionSample) nostr.Event {
	t.Helper()
	content, err := jsonfast.MarshalToString(sample)
	require.NoError(t, err)
	pubkey, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	event := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: time.Now(),
		Kind:      btcradar.KindLocation,
		Tags:      nostr.Tags{[]string{"g", "test-space"}},
		Content:   content,
	}
	require.NoError(t, event.Sign(sk))
	return event
}

func newTestSubscriber() *Subscriber {
	return &Subscriber{SpaceID: "test-space"}
}

func TestMergeIsIdempotent(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	sample := btcradar.PositionSample{Latitude: 48.13, Longitude: 11.58, Accuracy: 10, Timestamp: time.Now().Unix()}
	event := signedLocationEvent(t, sk, sample)
	defer Remove(event.PubKey)

	s := newTestSubscriber()
	s.HandleEvent(event)
	s.HandleEvent(event)

	entry, ok := Get(event.PubKey)
	require.True(t, ok)
	require.Equal(t, sample.Latitude, entry.Latitude)
	require.Equal(t, sample.Longitude, entry.Longitude)
	require.Equal(t, sample.Timestamp, entry.LastUpdated)

	count := 0
	for account := range GetAll() {
		if account == event.PubKey {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestLaterArrivalReplacesEarlierEntry(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	first := signedLocationEvent(t, sk, btcradar.PositionSample{Latitude: 1, Longitude: 1, Timestamp: 2000})
	//an older-timestamped update still wins: merges happen in arrival order
	second := signedLocationEvent(t, sk, btcradar.PositionSample{Latitude: 2, Longitude: 2, Timestamp: 1000})
	defer Remove(first.PubKey)

	s := newTestSubscriber()
	s.HandleEvent(first)
	s.HandleEvent(second)

	entry, ok := Get(first.PubKey)
	require.True(t, ok)
	require.Equal(t, float64(2), entry.Latitude)
	require.Equal(t, int64(1000), entry.LastUpdated)
}

func TestMergePreservesEnrichment(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	first := signedLocationEvent(t, sk, btcradar.PositionSample{Latitude: 1, Timestamp: 1})
	defer Remove(first.PubKey)

	s := newTestSubscriber()
	s.HandleEvent(first)
	currentState.enrich(first.PubKey, btcradar.Profile{Name: "alice", Picture: "https://example.com/a.png"})

	s.HandleEvent(signedLocationEvent(t, sk, btcradar.PositionSample{Latitude: 2, Timestamp: 2}))

	entry, ok := Get(first.PubKey)
	require.True(t, ok)
	require.Equal(t, float64(2), entry.Latitude)
	require.Equal(t, "alice", entry.Name)
	require.Equal(t, "https://example.com/a.png", entry.Picture)
}

func TestAsyncEnrichmentDoesNotBlockVisibility(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	event := signedLocationEvent(t, sk, btcradar.PositionSample{Latitude: 1, Timestamp: 1})
	defer Remove(event.PubKey)

	resolved := make(chan struct{})
	s := newTestSubscriber()
	s.Enrich = func(account btcradar.Account) (btcradar.Profile, bool) {
		defer close(resolved)
		return btcradar.Profile{Pubkey: account, DisplayName: "Alice"}, true
	}
	s.HandleEvent(event)

	//visible immediately with bare coordinates
	entry, ok := Get(event.PubKey)
	require.True(t, ok)

	select {
	case <-resolved:
	case <-time.After(time.Second):
		t.Fatal("enrichment never ran")
	}
	require.Eventually(t, func() bool {
		entry, _ = Get(event.PubKey)
		return entry.DisplayName == "Alice"
	}, time.Second, time.Millisecond*10)
}

func TestMalformedContentLeavesRosterUnchanged(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	event := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: time.Now(),
		Kind:      btcradar.KindLocation,
		Tags:      nostr.Tags{[]string{"g", "test-space"}},
		Content:   "this is not json",
	}
	require.NoError(t, event.Sign(sk))
	defer Remove(event.PubKey)

	s := newTestSubscriber()
	require.NotPanics(t, func() { s.HandleEvent(event) })

	_, ok := Get(event.PubKey)
	require.False(t, ok)
}

func TestTamperedEventIsDiscarded(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	event := signedLocationEvent(t, sk, btcradar.PositionSample{Latitude: 1, Timestamp: 1})
	event.Content = `{"latitude":99,"longitude":99,"timestamp":1}`
	defer Remove(event.PubKey)

	s := newTestSubscriber()
	s.HandleEvent(event)

	_, ok := Get(event.PubKey)
	require.False(t, ok)
}

func signedEncryptedEvent(t *testing.T, senderSk string, recipient btcradar.Account, sample btcradar.PositionSample) nostr.Event {
	t.Helper()
	content, err := jsonfast.MarshalToString(sample)
	require.NoError(t, err)
	shared, err := nip04.ComputeSharedSecret(senderSk, recipient)
	require.NoError(t, err)
	ciphertext, err := nip04.Encrypt(content, shared)
	require.NoError(t, err)
	sender, err := nostr.GetPublicKey(senderSk)
	require.NoError(t, err)
	event := nostr.Event{
		PubKey:    sender,
		CreatedAt: time.Now(),
		Kind:      btcradar.KindEncryptedLocation,
		Tags: nostr.Tags{
			[]string{"p", recipient},
			[]string{"g", "group-1"},
			[]string{"t", "location"},
		},
		Content: ciphertext,
	}
	require.NoError(t, event.Sign(senderSk))
	return event
}

func newEncryptedTestSubscriber(t *testing.T, selfSk string) *Subscriber {
	t.Helper()
	self, err := nostr.GetPublicKey(selfSk)
	require.NoError(t, err)
	s := newTestSubscriber()
	s.GroupID = "group-1"
	s.Self = func() btcradar.Account { return self }
	s.Decrypt = func(peer btcradar.Account, ciphertext string) (string, bool) {
		shared, err := nip04.ComputeSharedSecret(selfSk, peer)
		if err != nil {
			return "", false
		}
		plaintext, err := nip04.Decrypt(ciphertext, shared)
		if err != nil {
			return "", false
		}
		return plaintext, true
	}
	return s
}

func TestEncryptedCopyAddressedToUsJoinsTheRoster(t *testing.T) {
	selfSk := nostr.GeneratePrivateKey()
	self, err := nostr.GetPublicKey(selfSk)
	require.NoError(t, err)
	senderSk := nostr.GeneratePrivateKey()
	sample := btcradar.PositionSample{Latitude: 48.13, Longitude: 11.58, Timestamp: 1700000000}
	event := signedEncryptedEvent(t, senderSk, self, sample)
	defer Remove(event.PubKey)

	newEncryptedTestSubscriber(t, selfSk).HandleEvent(event)

	entry, ok := Get(event.PubKey)
	require.True(t, ok)
	require.Equal(t, sample.Latitude, entry.Latitude)
	require.Equal(t, sample.Timestamp, entry.LastUpdated)
}

func TestEncryptedCopyForSomeoneElseIsIgnored(t *testing.T) {
	selfSk := nostr.GeneratePrivateKey()
	otherRecipient, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	senderSk := nostr.GeneratePrivateKey()
	event := signedEncryptedEvent(t, senderSk, otherRecipient,
		btcradar.PositionSample{Latitude: 1, Timestamp: 1})
	defer Remove(event.PubKey)

	newEncryptedTestSubscriber(t, selfSk).HandleEvent(event)

	_, ok := Get(event.PubKey)
	require.False(t, ok)
}

func TestUndecryptableCopyLeavesRosterUnchanged(t *testing.T) {
	selfSk := nostr.GeneratePrivateKey()
	self, err := nostr.GetPublicKey(selfSk)
	require.NoError(t, err)
	senderSk := nostr.GeneratePrivateKey()
	event := signedEncryptedEvent(t, senderSk, self, btcradar.PositionSample{Latitude: 1, Timestamp: 1})
	defer Remove(event.PubKey)

	s := newEncryptedTestSubscriber(t, selfSk)
	s.Decrypt = func(btcradar.Account, string) (string, bool) { return "", false }
	require.NotPanics(t, func() { s.HandleEvent(event) })

	_, ok := Get(event.PubKey)
	require.False(t, ok)
}

func TestStalePersistedEntriesDroppedOnReload(t *testing.T) {
	now := time.Now()
	persisted := map[btcradar.Account]Entry{
		"stale": {Pubkey: "stale", LastUpdated: now.Add(-13 * time.Hour).Unix()},
		"fresh": {Pubkey: "fresh", LastUpdated: now.Add(-11 * time.Hour).Unix()},
	}
	pruned := pruneStale(persisted, now)
	require.NotContains(t, pruned, "stale")
	require.Contains(t, pruned, "fresh")
}
