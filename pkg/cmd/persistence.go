// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/persistence/memory"
	"github.com/titleworks/lientrack/pkg/persistence/postgresql"
)

// NewPersistence creates the persistence layer from a database URL. Postgres
// URLs get the production store; anything else (including "memory://") gets
// the in-memory store, which is only suitable for local runs.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgresql persistence: %w", err))
		}

		return p
	}

	logger.WarnContext(ctx, "using in-memory persistence, state will not survive restarts")

	return memory.NewPersistence()
}
