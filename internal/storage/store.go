// Package storage persists cards and review logs. SQLite serves single-user
// local installs and Postgres serves hosted multi-tenant deployments; both
// share one SQL implementation and every query is scoped by owner.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/dailyreview/internal/config"
	"github.com/conorfennell/dailyreview/internal/domain"
	"github.com/conorfennell/dailyreview/internal/fsrs"
)

// Store is the persistence provider used by the deck service.
type Store interface {
	CreateCards(ctx context.Context, cards []domain.Card) ([]domain.Card, error)
	GetCard(ctx context.Context, owner, id string) (domain.Card, error)
	ListCards(ctx context.Context, owner string, f domain.ListFilter) ([]domain.Card, error)
	DueCards(ctx context.Context, owner string, now time.Time) (domain.DueResult, error)
	Counts(ctx context.Context, owner string, now time.Time) (domain.Counts, error)
	EditCard(ctx context.Context, owner, id string, e domain.CardEdit) (domain.Card, error)
	// SetStatus changes the status only while the stored card still has
	// status from, and returns domain.ErrInvalidOperation otherwise.
	SetStatus(ctx context.Context, owner, id string, from, to domain.Status) (domain.Card, error)
	UpdateSchedule(ctx context.Context, owner, id string, snap fsrs.Snapshot) (domain.Card, error)
	// RecordReview writes snap and appends log in one transaction, but only if
	// the stored card is still active with reps == prevReps. Otherwise it
	// returns domain.ErrConflict and writes nothing.
	RecordReview(ctx context.Context, owner, id string, prevReps int, snap fsrs.Snapshot, log domain.ReviewLog) (domain.Card, error)
	DeleteCard(ctx context.Context, owner, id string) error
	CreateReviewLog(ctx context.Context, owner string, log domain.ReviewLog) error
	ListReviewLogs(ctx context.Context, owner, cardID string) ([]domain.ReviewLog, error)

	TouchSource(ctx context.Context, owner, path string, at time.Time) error
	ListSources(ctx context.Context, owner string) ([]Source, error)

	Close() error
}

// Source is a markdown directory or git checkout that cards are imported from.
type Source struct {
	Path        string     `json:"path"`
	LastScanned *time.Time `json:"last_scanned"`
}

// Open connects to the configured backend and applies pending migrations.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg)
	case "postgres":
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}
