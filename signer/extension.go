package signer

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"encoding/json"

	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
)

// Extension talks to an external signer daemon over HTTP on localhost. The
// daemon holds the user's key and answers GET /pubkey and POST /sign, so we
// never see the private key. Preferred over the local wallet when reachable.
type Extension struct {
	addr   string
	client *http.Client
}

func NewExtension(addr string) *Extension {
	return &Extension{
		addr:   strings.TrimSuffix(addr, "/"),
		client: &http.Client{Timeout: time.Second * 5},
	}
}

func (x *Extension) PublicKey() (btcradar.Account, error) {
	resp, err := x.client.Get(x.addr + "/pubkey")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signer daemon returned %d", resp.StatusCode)
	}
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	pk := strings.TrimSpace(string(b))
	if len(pk) != 64 {
		return "", fmt.Errorf("signer daemon returned an invalid pubkey: %s", pk)
	}
	return pk, nil
}

func (x *Extension) Sign(event *nostr.Event) error {
	if len(event.PubKey) == 0 {
		pk, err := x.PublicKey()
		if err != nil {
			return err
		}
		event.PubKey = pk
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	resp, err := x.client.Post(x.addr+"/sign", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signer daemon returned %d", resp.StatusCode)
	}
	var signed nostr.Event
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return err
	}
	if len(signed.Sig) == 0 {
		return fmt.Errorf("signer daemon returned an unsigned event")
	}
	//the daemon is outside our trust boundary, check its signature before use
	if !btcradar.VerifySignedHash(signed.ID, signed.Sig, event.PubKey) {
		return fmt.Errorf("signer daemon returned a signature that does not verify")
	}
	event.ID = signed.ID
	event.Sig = signed.Sig
	return nil
}
