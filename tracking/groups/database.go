//Package groups handles meetup groups: publishing group definitions,
//membership joins with signed invite codes, and the membership lists that
//drive encrypted location sharing.
package groups

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/sasha-s/go-deadlock"
	"btcradar/btcradar"
	"btcradar/database"
)

// Group is one meetup group as published on the relays. The ID is the event
// id of the group definition event, so it doubles as an existence proof.
type Group struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Organizer   btcradar.Account `json:"organizerPubkey"`
	Tags        []string         `json:"tags,omitempty"`
}

type persisted struct {
	Groups      map[string]Group                      `json:"groups"`
	Memberships map[string]map[btcradar.Account]int64 `json:"memberships"`
}

type db struct {
	groups map[string]Group
	//memberships maps group id to member account to joinedAt (unix seconds)
	memberships map[string]map[btcradar.Account]int64
	mutex       *deadlock.Mutex
}

var currentState = db{
	groups:      make(map[string]Group),
	memberships: make(map[string]map[btcradar.Account]int64),
	mutex:       &deadlock.Mutex{},
}

var startMutex = &deadlock.Mutex{}
var started = false

// StartDb starts the group database. It blocks until the database is ready to use.
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
		btcradar.LogCLI("Group database has started", 4)
	}
}

// start opens the database from disk (or creates it). It closes the `ready` channel once the database is ready to
// handle queries, and shuts down safely when the terminate channel is closed. Any upstream functions that need to
// know when the database has been shut down should wait on the provided waitgroup.
func start(terminate chan struct{}, wg *sync.WaitGroup, ready chan struct{}) {
	// We add a delta to the provided waitgroup so that upstream knows when the database has been safely shut down
	wg.Add(1)
	c, ok := database.Open("groups", "current")
	if ok {
		currentState.restoreFromDisk(c)
	}
	close(ready)
	// The database has been started. Now we wait on the terminate channel
	// until upstream closes it (telling us to shut down).
	<-terminate
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	b, err := json.MarshalIndent(persisted{
		Groups:      currentState.groups,
		Memberships: currentState.memberships,
	}, "", " ")
	if err != nil {
		btcradar.LogCLI(err.Error(), 0)
	}
	database.Write("groups", "current", b)
	//Tell upstream that we have finished shutting down the databases
	wg.Done()
	btcradar.LogCLI("Group database has shut down", 4)
}

func (s *db) restoreFromDisk(f *os.File) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var p persisted
	err := json.NewDecoder(f).Decode(&p)
	if err != nil {
		if err.Error() != "EOF" {
			btcradar.LogCLI(err.Error(), 0)
		}
	}
	err = f.Close()
	if err != nil {
		btcradar.LogCLI(err.Error(), 0)
	}
	if p.Groups != nil {
		s.groups = p.Groups
	}
	if p.Memberships != nil {
		s.memberships = p.Memberships
	}
}

func (s *db) upsertGroup(g Group) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.groups[g.ID] = g
}

func (s *db) addMember(groupID string, member btcradar.Account, joinedAt int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	members, ok := s.memberships[groupID]
	if !ok {
		members = make(map[btcradar.Account]int64)
		s.memberships[groupID] = members
	}
	//keep the earliest join we saw, repeat joins are idempotent
	if existing, ok := members[member]; ok && existing <= joinedAt {
		return
	}
	members[member] = joinedAt
}

// GetGroup returns one group definition.
func GetGroup(groupID string) (Group, bool) {
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	g, ok := currentState.groups[groupID]
	return g, ok
}

// GetAll returns a copy of every known group for presentation layers.
func GetAll() map[string]Group {
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	out := make(map[string]Group, len(currentState.groups))
	for id, g := range currentState.groups {
		out[id] = g
	}
	return out
}

// Members returns the member accounts of one group. This is the list that
// drives encrypted location fan-out.
func Members(groupID string) []btcradar.Account {
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	members := make([]btcradar.Account, 0, len(currentState.memberships[groupID]))
	for account := range currentState.memberships[groupID] {
		members = append(members, account)
	}
	return members
}

// IsMember reports whether the account has joined the group.
func IsMember(groupID string, account btcradar.Account) bool {
	currentState.mutex.Lock()
	defer currentState.mutex.Unlock()
	_, ok := currentState.memberships[groupID][account]
	return ok
}
