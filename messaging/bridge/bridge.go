//Package bridge is the local HTTP/websocket surface the frontend consumes:
//roster snapshots over a streaming socket, plus REST endpoints for profiles,
//zaps and watcher control. It only ever reads the roster; all mutation stays
//with the subscriber.
package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"btcradar/btcradar"
	"btcradar/messaging/profiles"
	"btcradar/payments/zaps"
	"btcradar/tracking/groups"
	"btcradar/tracking/publisher"
	"btcradar/tracking/roster"
	"btcradar/tracking/watcher"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	//roster snapshots are pushed at this cadence
	pushPeriod = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Bridge struct {
	Zaps      *zaps.Service
	Watcher   *watcher.Watcher
	Publisher *publisher.Publisher
	Groups    *groups.Service
	SpaceID   string
	router    *mux.Router
}

func New(z *zaps.Service, w *watcher.Watcher, p *publisher.Publisher, g *groups.Service, spaceID string) *Bridge {
	b := &Bridge{Zaps: z, Watcher: w, Publisher: p, Groups: g, SpaceID: spaceID, router: mux.NewRouter()}
	b.routes()
	return b
}

func (b *Bridge) routes() {
	// catch the websocket call before anything else
	b.router.Path("/").Headers("Upgrade", "websocket").HandlerFunc(b.handleWebsocket)
	b.router.HandleFunc("/login", b.handleLogin).Methods(http.MethodPost)
	b.router.HandleFunc("/roster", b.handleRoster).Methods(http.MethodGet)
	b.router.HandleFunc("/profile/{pubkey}", b.handleProfile).Methods(http.MethodGet)
	b.router.HandleFunc("/zap", b.handleZap).Methods(http.MethodPost)
	b.router.HandleFunc("/zaps/history", b.handleZapHistory).Methods(http.MethodGet)
	b.router.HandleFunc("/watch", b.handleWatch).Methods(http.MethodPost)
	b.router.HandleFunc("/status", b.handleStatus).Methods(http.MethodGet)
	b.router.HandleFunc("/groups", b.handleGroups).Methods(http.MethodGet)
	b.router.HandleFunc("/groups", b.handleCreateGroup).Methods(http.MethodPost)
	b.router.HandleFunc("/groups/{id}/join", b.handleJoinGroup).Methods(http.MethodPost)
	b.router.HandleFunc("/groups/{id}/invite", b.handleInvite).Methods(http.MethodGet)
	b.router.HandleFunc("/groups/{id}/members", b.handleMembers).Methods(http.MethodGet)
	b.router.HandleFunc("/share", b.handleShare).Methods(http.MethodPost)
}

func (b *Bridge) server(addr string) *http.Server {
	return &http.Server{
		Handler: cors.Default().Handler(b.router),
		Addr:    addr,
		//the zap flow is synchronous and worst-cases near 22s: up to 2s of
		//relay acks plus two 10s LNURL round trips have to fit inside the
		//write window
		WriteTimeout:      30 * time.Second,
		ReadTimeout:       2 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}
}

func (b *Bridge) Start() {
	btcradar.LogCLI("Starting the frontend bridge", 4)
	srv := b.server(btcradar.MakeOrGetConfig().GetString("websocketAddr"))
	btcradar.LogCLI(fmt.Sprintf("listening on "+srv.Addr), 4)
	err := srv.ListenAndServe()
	if err != nil {
		btcradar.LogCLI(err.Error(), 0)
	}
}

// handleWebsocket streams roster snapshots until the client goes away.
func (b *Bridge) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		btcradar.LogCLI(err.Error(), 2)
		return
	}
	go func() {
		defer conn.Close()
		ticker := time.NewTicker(pushPeriod)
		defer ticker.Stop()
		for range ticker.C {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(roster.GetAll()); err != nil {
				return
			}
		}
	}()
}

func (b *Bridge) handleRoster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, roster.GetAll())
}

// handleLogin imports an nsec or hex private key as the session identity.
func (b *Bridge) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := btcradar.ImportWallet(req.Key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	account := btcradar.MyWallet().Account
	npub, _ := btcradar.HexToNpub(account)
	writeJSON(w, map[string]string{"pubkey": account, "npub": npub})
}

func (b *Bridge) handleProfile(w http.ResponseWriter, r *http.Request) {
	pubkey, ok := btcradar.TranslateKey(mux.Vars(r)["pubkey"])
	if !ok {
		http.Error(w, "not a pubkey", http.StatusBadRequest)
		return
	}
	profile, ok := profiles.Fetch(pubkey)
	if !ok {
		http.Error(w, "no profile found", http.StatusNotFound)
		return
	}
	writeJSON(w, profile)
}

func (b *Bridge) handleZap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Amount    int64  `json:"amount"`
		Comment   string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipient, ok := btcradar.TranslateKey(req.Recipient)
	if !ok {
		http.Error(w, "not a pubkey", http.StatusBadRequest)
		return
	}
	writeJSON(w, b.Zaps.Send(recipient, req.Amount, req.Comment, b.SpaceID))
}

// handleZapHistory lists receipts addressed to us, newest first.
func (b *Bridge) handleZapHistory(w http.ResponseWriter, r *http.Request) {
	type receipt struct {
		ID         string `json:"id"`
		From       string `json:"from"`
		AmountMsat int64  `json:"amountMsat,omitempty"`
		CreatedAt  int64  `json:"createdAt"`
	}
	var out []receipt
	for _, event := range zaps.History(b.Zaps.Relays, btcradar.MyWallet().Account) {
		entry := receipt{ID: event.ID, From: event.PubKey, CreatedAt: event.CreatedAt.Unix()}
		if amount, ok := zaps.ReceiptAmount(event); ok {
			entry.AmountMsat = amount
		}
		out = append(out, entry)
	}
	writeJSON(w, out)
}

func (b *Bridge) handleGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, groups.GetAll())
}

func (b *Bridge) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := b.Groups.Publish(req.Name, req.Description, req.Tags)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"id": id})
}

func (b *Bridge) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Invite string `json:"invite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := b.Groups.Join(mux.Vars(r)["id"], req.Invite); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]bool{"joined": true})
}

// handleInvite mints an invite code. Only the organizer's signature will
// verify on the joining side, so anyone else gets a refusal here.
func (b *Bridge) handleInvite(w http.ResponseWriter, r *http.Request) {
	group, ok := groups.GetGroup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "unknown group", http.StatusNotFound)
		return
	}
	wallet := btcradar.MyWallet()
	if wallet.Account != group.Organizer {
		http.Error(w, "only the organizer can mint invites", http.StatusForbidden)
		return
	}
	code, ok := groups.InviteCode(group, wallet.PrivateKey)
	if !ok {
		http.Error(w, "could not build invite code", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"invite": code})
}

func (b *Bridge) handleMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, groups.Members(mux.Vars(r)["id"]))
}

// handleShare toggles encrypted location fan-out to a group's members.
func (b *Bridge) handleShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GroupID string `json:"groupId"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Enabled {
		b.Publisher.ShareWithGroup("")
		writeJSON(w, map[string]bool{"sharing": false})
		return
	}
	if !groups.IsMember(req.GroupID, btcradar.MyWallet().Account) {
		http.Error(w, "join the group before sharing with it", http.StatusForbidden)
		return
	}
	b.Publisher.ShareWithGroup(req.GroupID)
	writeJSON(w, map[string]bool{"sharing": true})
}

func (b *Bridge) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Enabled {
		writeJSON(w, map[string]bool{"watching": b.Watcher.Start()})
		return
	}
	b.Watcher.Stop()
	writeJSON(w, map[string]bool{"watching": false})
}

func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": b.Watcher.Status(),
	}
	if sample, ok := b.Watcher.Current(); ok {
		status["position"] = sample
	}
	if median, ok := b.Watcher.MedianAccuracy(); ok {
		status["medianAccuracy"] = median
	}
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		btcradar.LogCLI(err.Error(), 2)
	}
}
