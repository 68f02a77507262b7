package zaps

import (
	"sort"
	"time"

	"github.com/spf13/cast"
	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
	"btcradar/messaging/relayset"
)

// SubscribeReceipts streams kind 9735 receipts scoped to the shared
// event-space, so the UI can toast zaps as they land. Returns a teardown func.
func SubscribeReceipts(relays *relayset.RelaySet, spaceID string, callback func(nostr.Event)) func() {
	events, teardown := relays.Subscribe(nostr.Filters{nostr.Filter{
		Kinds: []int{btcradar.KindZapReceipt},
		Tags:  nostr.TagMap{"g": []string{spaceID}},
	}})
	go func() {
		for event := range events {
			if ok, err := event.CheckSignature(); !ok || err != nil {
				continue
			}
			callback(event)
		}
	}()
	return teardown
}

// History fetches up to 100 receipts addressed to the account, newest first.
func History(relays *relayset.RelaySet, account btcradar.Account) []nostr.Event {
	events, teardown := relays.Subscribe(nostr.Filters{nostr.Filter{
		Kinds: []int{btcradar.KindZapReceipt},
		Tags:  nostr.TagMap{"p": []string{account}},
		Limit: 100,
	}})
	defer teardown()
	var collected []nostr.Event
	gotResult := false
	tries := 0
	for tries < 5 {
		select {
		case event := <-events:
			if ok, err := event.CheckSignature(); ok && err == nil {
				collected = append(collected, event)
				gotResult = true
			}
		case <-time.After(time.Second * 2):
			tries++
			if gotResult {
				tries = 5
			}
		}
	}
	sort.Slice(collected, func(i, j int) bool {
		return collected[i].CreatedAt.After(collected[j].CreatedAt)
	})
	return collected
}

// ReceiptAmount pulls the amount tag (millisats) off a receipt's embedded
// request, if present.
func ReceiptAmount(event nostr.Event) (int64, bool) {
	for _, tag := range event.Tags {
		if len(tag) > 1 && tag[0] == "amount" {
			if amount, err := cast.ToInt64E(tag[1]); err == nil {
				return amount, true
			}
		}
	}
	return 0, false
}
