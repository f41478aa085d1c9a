package storage

import (
	"context"
	"fmt"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
)

// IdentityStore persists enrolled identities per scope and the match
// events recognition produces.
type IdentityStore interface {
	// ListIdentities returns every identity of scope in roster order.
	ListIdentities(ctx context.Context, scope string) ([]models.Identity, error)
	// GetIdentity returns nil, nil when the identity does not exist.
	GetIdentity(ctx context.Context, scope string, externalID int64) (*models.Identity, error)
	// UpsertIdentities writes all identities in one round trip, replacing
	// their media.
	UpsertIdentities(ctx context.Context, ids []models.Identity) error
	// Retain removes identities of scope whose external id is not in
	// roster, records the position of every other one in roster and
	// returns the removed ids.
	Retain(ctx context.Context, scope string, roster []int64) ([]int64, error)
	RecordEvent(ctx context.Context, ev *models.MatchEvent) error
	Ping(ctx context.Context) error
	Close()
}

// Open connects the backend selected by cfg.Database.Driver and prepares
// its schema or indexes.
func Open(ctx context.Context, cfg *config.Config) (IdentityStore, error) {
	switch cfg.Database.Driver {
	case "postgres":
		s, err := NewPostgresStore(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "mongo":
		return NewMongoStore(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
