//Package database is flat-file persistence for in-memory databases:
//one file per (bucket, dataset) pair under rootDir/flatFileDir.
package database

import (
	"os"

	dircopy "github.com/otiai10/copy"
	"github.com/sasha-s/go-deadlock"
	"btcradar/btcradar"
)

var mutex = &deadlock.Mutex{}

func dir() string {
	return btcradar.MakeOrGetConfig().GetString("rootDir") + btcradar.MakeOrGetConfig().GetString("flatFileDir")
}

func path(bucket, dataset string) string {
	return dir() + bucket + "." + dataset + ".json"
}

// Open returns a handle on the current flat file for this bucket's dataset. The
// caller owns the handle and must close it.
func Open(bucket, dataset string) (*os.File, bool) {
	mutex.Lock()
	defer mutex.Unlock()
	f, err := os.Open(path(bucket, dataset))
	if err != nil {
		return nil, false
	}
	return f, true
}

// Write replaces the dataset's flat file with the provided bytes.
func Write(bucket, dataset string, data []byte) {
	mutex.Lock()
	defer mutex.Unlock()
	if err := os.MkdirAll(dir(), 0755); err != nil {
		btcradar.LogCLI(err.Error(), 0)
		return
	}
	tmp := path(bucket, dataset) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		btcradar.LogCLI(err.Error(), 0)
		return
	}
	if err := os.Rename(tmp, path(bucket, dataset)); err != nil {
		btcradar.LogCLI(err.Error(), 0)
	}
}

// Backup copies the whole flat-file directory aside so that a corrupt shutdown
// doesn't take the previous good state with it.
func Backup() {
	mutex.Lock()
	defer mutex.Unlock()
	if _, err := os.Stat(dir()); os.IsNotExist(err) {
		return
	}
	backupDir := btcradar.MakeOrGetConfig().GetString("rootDir") + "backup/"
	if err := dircopy.Copy(dir(), backupDir); err != nil {
		btcradar.LogCLI(err.Error(), 2)
	}
}
