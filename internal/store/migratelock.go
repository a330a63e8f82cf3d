package store

import (
	"fmt"

	"github.com/gofrs/flock"
)

// acquireMigrationLock takes an exclusive advisory lock on a file beside the
// database, so two `asgn` processes started at the same instant don't race
// goose through the same migration. This is the one place the assigner
// still reaches for a raw filesystem lock — everywhere else, mutual
// exclusion (directory locks, prompt claims) is enforced by the store
// itself rather than by the filesystem, since only the store can see
// every process sharing the database, while a flock only coordinates
// processes on the same host.
func acquireMigrationLock(dbPath string) (release func(), err error) {
	lockPath := dbPath + ".migrate.lock"
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring migration lock %s: %w", lockPath, err)
	}
	return func() { _ = fl.Unlock() }, nil
}
