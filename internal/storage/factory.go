package storage

import "fmt"

// DefaultStoreKind is used when no backend is configured.
func DefaultStoreKind() string {
	return "memory"
}

// NewStore builds a backend by name. dsn is a file path for sqlite and a
// connection string for postgres.
func NewStore(kind, dsn string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
