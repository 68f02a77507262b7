package zaps

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stackerstan/go-nostr"
	"github.com/stretchr/testify/require"
	"btcradar/btcradar"
	"btcradar/messaging/relayset"
)

func receiptEvent(t *testing.T, recipient btcradar.Account, amountMsat string) nostr.Event {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	event := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: time.Now(),
		Kind:      btcradar.KindZapReceipt,
		Tags: nostr.Tags{
			[]string{"p", recipient},
			[]string{"amount", amountMsat},
		},
		Content: "",
	}
	require.NoError(t, event.Sign(sk))
	return event
}

// startReceiptRelay answers the first REQ on each connection with the given
// events, echoing the subscription id the client chose.
func startReceiptRelay(t *testing.T, events []nostr.Event) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var raw []json.RawMessage
			if json.Unmarshal(msg, &raw) != nil || len(raw) < 2 {
				continue
			}
			var label string
			json.Unmarshal(raw[0], &label)
			if label != "REQ" {
				continue
			}
			var subID string
			json.Unmarshal(raw[1], &subID)
			for _, event := range events {
				conn.WriteJSON([]interface{}{"EVENT", subID, event})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHistoryCollectsSignedReceiptsNewestFirst(t *testing.T) {
	recipient, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	older := receiptEvent(t, recipient, "1000")
	older.CreatedAt = time.Now().Add(-time.Hour)
	//re-sign after adjusting the timestamp so the signature still verifies
	olderSk := nostr.GeneratePrivateKey()
	olderPubkey, err := nostr.GetPublicKey(olderSk)
	require.NoError(t, err)
	older.PubKey = olderPubkey
	require.NoError(t, older.Sign(olderSk))
	newer := receiptEvent(t, recipient, "21000")

	tampered := receiptEvent(t, recipient, "999999")
	tampered.Content = "rewritten after signing"

	addr := startReceiptRelay(t, []nostr.Event{older, tampered, newer})
	collected := History(relayset.Use([]string{addr}), recipient)

	require.Len(t, collected, 2)
	require.Equal(t, newer.ID, collected[0].ID)
	require.Equal(t, older.ID, collected[1].ID)

	amount, ok := ReceiptAmount(collected[0])
	require.True(t, ok)
	require.Equal(t, int64(21000), amount)
}

func TestReceiptAmountReadsTheAmountTag(t *testing.T) {
	event := nostr.Event{Tags: nostr.Tags{[]string{"amount", "21000"}}}
	amount, ok := ReceiptAmount(event)
	require.True(t, ok)
	require.Equal(t, int64(21000), amount)

	_, ok = ReceiptAmount(nostr.Event{Tags: nostr.Tags{[]string{"p", "someone"}}})
	require.False(t, ok)

	_, ok = ReceiptAmount(nostr.Event{Tags: nostr.Tags{[]string{"amount", "not a number"}}})
	require.False(t, ok)
}
