package resume

import (
	"fmt"
	"strings"

	"github.com/louisbranch/gammon.space/internal/resume/storage"
	"github.com/louisbranch/gammon.space/internal/resume/storage/bbolt"
	"github.com/louisbranch/gammon.space/internal/resume/storage/memory"
	"github.com/louisbranch/gammon.space/internal/resume/storage/sqlite"
)

// OpenStore opens the configured storage backend. The memory driver exists
// for local development; it loses all state on restart.
func OpenStore(driver, path string) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "bbolt":
		store, err := bbolt.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
