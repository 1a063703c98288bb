package docstore

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Open builds the backend named by driver. dsn is a file path for sqlite
// and a redis:// URL for redis; it is ignored for memory.
func Open(driver, dsn string, logger zerolog.Logger) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn, logger)
	case "redis":
		return NewRedisStore(dsn, logger)
	case "memory":
		return NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
