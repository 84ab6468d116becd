// Package service is the balance reconciliation engine. Every exported operation
// runs inside one database transaction and keeps each cached balance equal to the
// net effect of the events that currently apply to it.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/database"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope identifies the caller and the workspace every lookup is restricted to.
type Scope struct {
	UserID    uint
	Workspace models.Workspace
}

func (s Scope) key(prefix string) string {
	return fmt.Sprintf("%s:%d:%s", prefix, s.UserID, s.Workspace)
}

// Invalidator drops cached read models after a successful commit.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string)
}

type logInvalidator struct{ log *slog.Logger }

func (l logInvalidator) Invalidate(ctx context.Context, keys ...string) {
	l.log.DebugContext(ctx, "cache invalidated", "keys", keys)
}

type Service struct {
	db         *gorm.DB
	categories database.Registry
	rates      RateSource
	cache      Invalidator
	log        *slog.Logger
	now        func() time.Time
	retries    int
	purgeAfter time.Duration
}

type Option func(*Service)

// WithClock replaces time.Now, used by tests driving the purge window.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithInvalidator(inv Invalidator) Option { return func(s *Service) { s.cache = inv } }

func WithRateSource(rs RateSource) Option { return func(s *Service) { s.rates = rs } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithRetries(n int) Option { return func(s *Service) { s.retries = n } }

func WithPurgeAfter(d time.Duration) Option { return func(s *Service) { s.purgeAfter = d } }

func New(db *gorm.DB, categories database.Registry, opts ...Option) *Service {
	s := &Service{
		db:         db,
		categories: categories,
		log:        slog.Default(),
		now:        time.Now,
		retries:    3,
		purgeAfter: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rates == nil {
		s.rates = TableRateSource{}
	}
	if s.cache == nil {
		s.cache = logInvalidator{log: s.log}
	}
	return s
}

// inTx runs fn in one database transaction, serializable on postgres. The whole
// closure is retried when the attempt lost a race; the lost attempt was rolled
// back, so nothing is applied twice.
func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var opts []*sql.TxOptions
	if s.db.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}

	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn, opts...)
		if err == nil || !retryable(err) {
			break
		}
		s.log.WarnContext(ctx, "transaction conflict, retrying", "attempt", attempt+1, "error", err)
	}
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		s.log.ErrorContext(ctx, "reconciliation failed", "error", err)
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, apperr.ErrConcurrentUpdate) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (s *Service) invalidate(ctx context.Context, scope Scope, prefixes ...string) {
	keys := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		keys = append(keys, scope.key(p))
	}
	s.cache.Invalidate(ctx, keys...)
}

// forUpdate adds a row lock where the dialect has one; sqlite already
// serializes writers on the database lock.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// findScoped loads a row with user_id and workspace columns. A row of the caller
// in the other workspace is Forbidden, anything else invisible is NotFound.
func findScoped[T any](tx *gorm.DB, scope Scope, id uint, what string) (*T, error) {
	var row T
	err := forUpdate(tx).Where("id = ? AND user_id = ? AND workspace = ?", id, scope.UserID, scope.Workspace).
		First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load %s %d: %w", what, id, err)
	}

	var n int64
	if err := tx.Model(new(T)).Where("id = ? AND user_id = ?", id, scope.UserID).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("load %s %d: %w", what, id, err)
	}
	if n > 0 {
		return nil, fmt.Errorf("%s %d: %w", what, id, apperr.ErrWorkspaceMismatch)
	}
	return nil, apperr.NotFound("%s %d not found", what, id)
}

func lookupErr(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("%s %d not found", what, id)
	}
	return fmt.Errorf("load %s %d: %w", what, id, err)
}
