//Package zaps implements the zap request flow: resolve the recipient's
//payment endpoint, publish a signed kind 9734 request to the relay set, then
//bridge to the LNURL HTTP flow to obtain a payable invoice. This service never
//pays the invoice; presenting it (QR, wallet deep link) is the caller's job.
package zaps

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
	"btcradar/messaging/profiles"
	"btcradar/messaging/relayset"
	"btcradar/signer"
)

var jsonfast = jsoniter.ConfigCompatibleWithStandardLibrary

// LnurlTimeout bounds each of the two LNURL HTTP round trips in the zap flow.
const LnurlTimeout = time.Second * 10

// Result is returned to the presentation layer, which branches on Success
// rather than catching anything. On success Message is the bolt11 payment
// request; on failure it is a human readable diagnostic.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Service struct {
	Signer signer.Signer
	Relays *relayset.RelaySet
	//Endpoint resolves a recipient to a lightning address or LNURL. Swappable
	//in tests; defaults to the profile lookup.
	Endpoint func(btcradar.Account) (string, bool)
	HTTP     *http.Client
	//AckTimeout is the hard per-relay bound. Shorter than the location publish
	//linger because this path is synchronous from the user's perspective.
	AckTimeout time.Duration
}

func NewService(s signer.Signer, r *relayset.RelaySet) *Service {
	return &Service{
		Signer:     s,
		Relays:     r,
		Endpoint:   profiles.ZapEndpoint,
		HTTP:       &http.Client{Timeout: LnurlTimeout},
		AckTimeout: relayset.AckTimeout,
	}
}

// Send runs the whole zap flow for a user-initiated payment. The comment is
// passed through exactly as received, never truncated here.
func (z *Service) Send(recipient btcradar.Account, amountSats int64, comment string, spaceID string) Result {
	if amountSats <= 0 {
		return Result{Message: "zap amount must be a positive number of sats"}
	}

	endpoint, ok := z.Endpoint(recipient)
	if !ok {
		return Result{Message: "recipient does not have a lightning address configured"}
	}

	request, err := z.buildRequest(recipient, amountSats, comment, spaceID)
	if err != nil {
		return Result{Message: "could not sign zap request: " + err.Error()}
	}

	successes, failed := z.Relays.PublishWait(request, z.AckTimeout)
	if successes == 0 {
		return Result{Message: "failed to publish zap request to all relays (timeout or error): " + strings.Join(failed, ", ")}
	}

	requestJSON, err := jsonfast.Marshal(&request)
	if err != nil {
		return Result{Message: "could not serialise zap request: " + err.Error()}
	}

	callback, errResult := z.fetchCallback(endpoint)
	if errResult != nil {
		return *errResult
	}

	invoiceURL, err := attachQuery(callback, amountSats, requestJSON)
	if err != nil {
		return Result{Message: "could not construct callback URL: " + err.Error()}
	}

	return z.fetchInvoice(invoiceURL)
}

// buildRequest constructs and signs the kind 9734 event. The relays tag tells
// the receipt issuer where to publish the matching kind 9735.
func (z *Service) buildRequest(recipient btcradar.Account, amountSats int64, comment, spaceID string) (nostr.Event, error) {
	now := time.Now()
	description, err := jsonfast.MarshalToString(map[string]interface{}{
		"content":    comment,
		"created_at": now.Unix(),
	})
	if err != nil {
		return nostr.Event{}, err
	}
	relaysTag := append([]string{"relays"}, z.Relays.Relays()...)
	event := nostr.Event{
		CreatedAt: now,
		Kind:      btcradar.KindZapRequest,
		Tags: nostr.Tags{
			[]string{"p", recipient},
			[]string{"amount", cast.ToString(amountSats)},
			relaysTag,
			[]string{"g", spaceID},
			[]string{"description", description},
		},
		Content: comment,
	}
	if err := z.Signer.Sign(&event); err != nil {
		return nostr.Event{}, err
	}
	return event, nil
}

// LnurlEndpoint rewrites a lightning address to the well-known LNURL pay path;
// anything without an @ is assumed to already be an LNURL endpoint.
func LnurlEndpoint(zapEndpoint string) string {
	if strings.Contains(zapEndpoint, "@") {
		parts := strings.SplitN(zapEndpoint, "@", 2)
		return "https://" + parts[1] + "/.well-known/lnurlp/" + parts[0]
	}
	return zapEndpoint
}

func (z *Service) fetchCallback(zapEndpoint string) (string, *Result) {
	endpoint := LnurlEndpoint(zapEndpoint)
	resp, err := z.HTTP.Get(endpoint)
	if err != nil {
		return "", &Result{Message: "failed to fetch LNURL endpoint: " + err.Error()}
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", &Result{Message: "failed to read LNURL response: " + err.Error()}
	}
	var params struct {
		Callback string `json:"callback"`
	}
	if err := jsonfast.Unmarshal(body, &params); err != nil || len(params.Callback) == 0 {
		//echo the raw response so the user can see what the server actually said
		btcradar.LogCLI(spew.Sdump(body), 3)
		return "", &Result{Message: "invalid LNURL response: " + string(body)}
	}
	return params.Callback, nil
}

// attachQuery adds the amount in millisats (exact sats x 1000) and the signed
// zap request JSON to the callback URL.
func attachQuery(callback string, amountSats int64, requestJSON []byte) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("amount", cast.ToString(amountSats*1000))
	q.Set("nostr", string(requestJSON))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (z *Service) fetchInvoice(invoiceURL string) Result {
	resp, err := z.HTTP.Get(invoiceURL)
	if err != nil {
		return Result{Message: "failed to fetch invoice: " + err.Error()}
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return Result{Message: "failed to read invoice response: " + err.Error()}
	}
	var invoice struct {
		Pr string `json:"pr"`
	}
	if err := jsonfast.Unmarshal(body, &invoice); err != nil || len(invoice.Pr) == 0 {
		btcradar.LogCLI(spew.Sdump(body), 3)
		return Result{Message: fmt.Sprintf("failed to get lightning invoice: %s", string(body))}
	}
	return Result{Success: true, Message: invoice.Pr}
}
