//Package profiles resolves kind 0 metadata for participants: display name and
//avatar for the roster, lightning fields for zaps. Lookups are best-effort
//with a bounded wait and results are cached in a flat-file db.
package profiles

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
)

var jsonfast = jsoniter.ConfigCompatibleWithStandardLibrary

// FetchTimeout bounds the per-relay wait for a profile query.
const FetchTimeout = time.Second * 5

var dialer = &websocket.Dialer{HandshakeTimeout: time.Second * 4}

// Fetch returns the profile for an account, querying every relay when it is
// not cached yet. Results carrying a picture win over bare ones. Returns
// false when no relay knows the account.
func Fetch(account btcradar.Account) (btcradar.Profile, bool) {
	if p, ok := GetCached(account); ok {
		return p, true
	}
	return Refresh(account)
}

// Refresh queries every relay regardless of cache state.
func Refresh(account btcradar.Account) (btcradar.Profile, bool) {
	relays := btcradar.GetRelays()
	results := make(chan btcradar.Profile, len(relays))
	for _, s := range relays {
		go func(relay string) {
			if p, ok := queryRelay(relay, account); ok {
				results <- p
			} else {
				results <- btcradar.Profile{}
			}
		}(s)
	}
	var fallback btcradar.Profile
	var haveFallback bool
	for i := 0; i < len(relays); i++ {
		select {
		case p := <-results:
			if len(p.Pubkey) == 0 {
				continue
			}
			if len(p.Picture) > 0 {
				currentState.upsert(p)
				return p, true
			}
			fallback = p
			haveFallback = true
		case <-time.After(FetchTimeout):
			i = len(relays) //the stragglers won't get better
		}
	}
	if haveFallback {
		currentState.upsert(fallback)
		return fallback, true
	}
	btcradar.LogCLI("no profile found for "+account, 3)
	return btcradar.Profile{}, false
}

// queryRelay asks one relay for the account's kind 0 over a throwaway socket.
func queryRelay(relay string, account btcradar.Account) (btcradar.Profile, bool) {
	conn, _, err := dialer.Dial(relay, nil)
	if err != nil {
		return btcradar.Profile{}, false
	}
	defer conn.Close()
	req, err := json.Marshal([]interface{}{"REQ", "profile", nostr.Filter{
		Kinds:   []int{btcradar.KindProfileMetadata},
		Authors: []string{account},
		Limit:   1,
	}})
	if err != nil {
		return btcradar.Profile{}, false
	}
	deadline := time.Now().Add(FetchTimeout)
	conn.SetWriteDeadline(deadline)
	if err = conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return btcradar.Profile{}, false
	}
	conn.SetReadDeadline(deadline)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return btcradar.Profile{}, false
		}
		var raw []json.RawMessage
		if err := json.Unmarshal(msg, &raw); err != nil || len(raw) < 2 {
			continue
		}
		var label string
		if err := json.Unmarshal(raw[0], &label); err != nil {
			continue
		}
		if label == "EOSE" {
			return btcradar.Profile{}, false
		}
		if label != "EVENT" || len(raw) < 3 {
			continue
		}
		var event nostr.Event
		if err := json.Unmarshal(raw[2], &event); err != nil {
			continue
		}
		if event.Kind != btcradar.KindProfileMetadata || event.PubKey != account {
			continue
		}
		if ok, err := event.CheckSignature(); !ok || err != nil {
			continue
		}
		var p btcradar.Profile
		if err := jsonfast.UnmarshalFromString(event.Content, &p); err != nil {
			btcradar.LogCLI("could not parse profile content from "+relay+": "+err.Error(), 3)
			continue
		}
		p.Pubkey = account
		return p, true
	}
}

// ZapEndpoint resolves the account's payment endpoint: the lud16 lightning
// address first, the raw lud06 LNURL second, and as a last resort lightning
// fields hidden in a JSON-shaped about field.
func ZapEndpoint(account btcradar.Account) (string, bool) {
	profile, ok := Fetch(account)
	if !ok {
		return "", false
	}
	return endpointFromProfile(profile)
}

func endpointFromProfile(profile btcradar.Profile) (string, bool) {
	if len(profile.Lud16) > 0 {
		return profile.Lud16, true
	}
	if len(profile.Lud06) > 0 {
		return profile.Lud06, true
	}
	if strings.HasPrefix(strings.TrimSpace(profile.About), "{") {
		var about struct {
			Lud16 string `json:"lud16"`
			Lud06 string `json:"lud06"`
		}
		if err := jsonfast.UnmarshalFromString(profile.About, &about); err == nil {
			if len(about.Lud16) > 0 {
				return about.Lud16, true
			}
			if len(about.Lud06) > 0 {
				return about.Lud06, true
			}
		}
	}
	return "", false
}
