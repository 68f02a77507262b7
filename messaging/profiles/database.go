package profiles

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/sasha-s/go-deadlock"
	"btcradar/btcradar"
	"btcradar/database"
)

type db struct {
	data  map[btcradar.Account]btcradar.Profile
	mutex *deadlock.Mutex
}

var currentState = db{
	data:  make(map[btcradar.Account]btcradar.Profile),
	mutex: &deadlock.Mutex{},
}

var startMutex = &deadlock.Mutex{}
var started = false

// StartDb starts the profile cache. It blocks until the database is ready to use.
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
		btcradar.LogCLI("Profile cache has started", 4)
	}
}

// start opens the database from disk (or creates it). It closes the `ready` channel once the database is ready to
// handle queries, and shuts down safely when the terminate channel is closed. Any upstream functions that need to
// know when the database has been shut down should wait on the provided waitgroup.
func start(terminate chan struct{}, wg *sync.WaitGroup, ready chan struct{}) {
	// We add a delta to the provided waitgroup so that upstream knows when the database has been safely shut down
	wg.Add(1)
	c, ok := database.Open("profiles", "current")
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
	database.Write("profiles", "current", b)
	//Tell upstream that we have finished shutting down the databases
	wg.Done()
	btcradar.LogCLI("Profile cache has shut down", 4)
}

func (s *db) restoreFromDisk(f *os.File) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	err := json.NewDecoder(f).Decode(&s.data)
	if err != nil {
		if err.Error() != "EOF" {
			btcradar.LogCLI(err.Error(), 0)
		}
	}
	err = f.Close()
	if err != nil {
		btcradar.LogCLI(err.Error(), 0)
	}
}

func (s *db) upsert(p btcradar.Profile) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data[p.Pubkey] = p
}

// GetCached returns a profile without touching the network.
func GetCached(account btcradar.Account) (btcradar.Profile, bool) {
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	p, ok := currentState.data[account]
	return p, ok
}
