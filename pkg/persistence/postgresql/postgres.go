// Package postgresql provides PostgreSQL persistence for the execution log,
// interrupts, notifications, audit events and resume signals.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/persistence/sqlbase"
)

// querier is satisfied by both *sql.DB and *sql.Tx so repositories can run
// standalone or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repoSet binds the repository implementations to one querier.
type repoSet struct {
	tasks         *TaskRepository
	interrupts    *InterruptRepository
	notifications *NotificationRepository
	audit         *AuditRepository
	resumeSignals *ResumeSignalRepository
}

func newRepoSet(q querier, logger *slog.Logger) *repoSet {
	return &repoSet{
		tasks:         &TaskRepository{q: q, logger: logger},
		interrupts:    &InterruptRepository{q: q, logger: logger},
		notifications: &NotificationRepository{q: q, logger: logger},
		audit:         &AuditRepository{q: q},
		resumeSignals: &ResumeSignalRepository{q: q},
	}
}

func (s *repoSet) Tasks() persistence.TaskRepository                  { return s.tasks }
func (s *repoSet) Interrupts() persistence.InterruptRepository        { return s.interrupts }
func (s *repoSet) Notifications() persistence.NotificationRepository  { return s.notifications }
func (s *repoSet) Audit() persistence.AuditRepository                 { return s.audit }
func (s *repoSet) ResumeSignals() persistence.ResumeSignalRepository  { return s.resumeSignals }

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*repoSet

	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		repoSet: newRepoSet(database, logger),
		db:      database,
		logger:  logger,
	}, nil
}

// Transact runs fn inside a single database transaction.
func (p *Persistence) Transact(ctx context.Context, fn func(repos persistence.Repositories) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(newRepoSet(tx, p.logger))
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			p.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
