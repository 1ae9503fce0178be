// internal/modules/ledger/entity.go
package ledger

import "context"

// DefaultCapacity is the number of most recent message ids the ledger keeps.
const DefaultCapacity = 1000

// Store persists the ledger across restarts. Ids are ordered oldest first.
type Store interface {
	// Load returns the persisted ids, oldest first.
	Load(ctx context.Context) ([]string, error)
	// Append records id as the newest entry and trims the oldest entries so
	// that at most capacity ids remain.
	Append(ctx context.Context, id string, capacity int) error
	Close() error
}
