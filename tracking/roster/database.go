package roster

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
	"btcradar/btcradar"
	"btcradar/database"
)

// Entry is the most recently known location of one participant, at most one
// per identity, enriched asynchronously with profile metadata.
type Entry struct {
	Pubkey      btcradar.Account `json:"pubkey"`
	Latitude    float64          `json:"latitude"`
	Longitude   float64          `json:"longitude"`
	Accuracy    float64          `json:"accuracy,omitempty"`
	LastUpdated int64            `json:"lastUpdated"` //unix seconds
	Name        string           `json:"name,omitempty"`
	DisplayName string           `json:"displayName,omitempty"`
	Picture     string           `json:"picture,omitempty"`
}

// MaxEntryAge is the persistence-layer age filter: entries older than this are
// dropped on reload. Entries are never actively expired while running.
const MaxEntryAge = time.Hour * 12

type db struct {
	data  map[btcradar.Account]Entry
	mutex *deadlock.Mutex
}

var currentState = db{
	data:  make(map[btcradar.Account]Entry),
	mutex: &deadlock.Mutex{},
}

var startMutex = &deadlock.Mutex{}
var started = false

// StartDb starts the roster database. It blocks until the database is ready to use.
func StartDb(terminate chan struct{}, wg *sync.WaitGroup) {
	startMutex.Lock()
	defer startMutex.Unlock()
	if !started {
		started = true
		// we need a channel to listen for a successful database start
		ready := make(chan struct{})
		// now we can start the database in a new goroutine
		go start(terminate, wg, ready)
		// when the database has started, the goroutine will close the `ready` channel.
		<-ready //This channel listener blocks until closed by `start`.
		btcradar.LogCLI("Roster database has started", 4)
	}
}

// start opens the database from disk (or creates it). It closes the `ready` channel once the database is ready to
// handle queries, and shuts down safely when the terminate channel is closed. Any upstream functions that need to
// know when the database has been shut down should wait on the provided waitgroup.
func start(terminate chan struct{}, wg *sync.WaitGroup, ready chan struct{}) {
	// We add a delta to the provided waitgroup so that upstream knows when the database has been safely shut down
	wg.Add(1)
	c, ok := database.Open("roster", "current")
	if ok {
		currentState.restoreFromDisk(c)
	}
	close(ready)
	// The database has been started. Now we wait on the terminate channel
	// until upstream closes it (telling us to shut down).
	<-terminate
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	b, err := json.MarshalIndent(currentState.data, "", " ")
	if err != nil {
		btcradar.LogCLI(err.Error(), 0)
	}
	database.Write("roster", "current", b)
	//Tell upstream that we have finished shutting down the databases
	wg.Done()
	btcradar.LogCLI("Roster database has shut down", 4)
}

func (s *db) restoreFromDisk(f *os.File) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var persisted map[btcradar.Account]Entry
	err := json.NewDecoder(f).Decode(&persisted)
	if err != nil {
		if err.Error() != "EOF" {
			btcradar.LogCLI(err.Error(), 0)
		}
	}
	err = f.Close()
	if err != nil {
		btcradar.LogCLI(err.Error(), 0)
	}
	s.data = pruneStale(persisted, time.Now())
}

// pruneStale drops entries whose last update is older than MaxEntryAge.
func pruneStale(persisted map[btcradar.Account]Entry, now time.Time) map[btcradar.Account]Entry {
	fresh := make(map[btcradar.Account]Entry)
	cutoff := now.Add(-MaxEntryAge).Unix()
	for account, entry := range persisted {
		if entry.LastUpdated >= cutoff {
			fresh[account] = entry
		}
	}
	return fresh
}

// merge applies a location update. Later arrivals for the same identity
// replace the earlier ones (arrival order, not event-timestamp order), but
// enrichment fields survive updates that lack them.
func (s *db) merge(e Entry) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	existing, ok := s.data[e.Pubkey]
	if ok {
		if len(e.Name) == 0 {
			e.Name = existing.Name
		}
		if len(e.DisplayName) == 0 {
			e.DisplayName = existing.DisplayName
		}
		if len(e.Picture) == 0 {
			e.Picture = existing.Picture
		}
	}
	s.data[e.Pubkey] = e
}

// enrich fills in profile fields without touching coordinates. A no-op when
// the entry has disappeared in the meantime.
func (s *db) enrich(account btcradar.Account, profile btcradar.Profile) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	entry, ok := s.data[account]
	if !ok {
		return
	}
	if len(profile.Name) > 0 {
		entry.Name = profile.Name
	}
	if len(profile.DisplayName) > 0 {
		entry.DisplayName = profile.DisplayName
	}
	if len(profile.Picture) > 0 {
		entry.Picture = profile.Picture
	}
	s.data[account] = entry
}

// GetAll returns a copy of the roster for presentation layers. Only the
// subscriber's merge routine ever mutates the underlying map.
func GetAll() map[btcradar.Account]Entry {
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	out := make(map[btcradar.Account]Entry, len(currentState.data))
	for account, entry := range currentState.data {
		out[account] = entry
	}
	return out
}

// Get returns one participant's entry.
func Get(account btcradar.Account) (Entry, bool) {
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	e, ok := currentState.data[account]
	return e, ok
}

// Remove drops a participant from the roster.
func Remove(account btcradar.Account) {
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	delete(currentState.data, account)
}
