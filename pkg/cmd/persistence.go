package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/dukex/engageflow/pkg/persistence/file"
	"github.com/dukex/engageflow/pkg/persistence/postgresql"
)

// NewPersistence opens the workflow store named by databaseURL:
// file://<dir> or postgres://...
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, location := parseProvider(databaseURL)

	switch provider {
	case "file":
		return file.NewPersistence(location), nil
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL persistence: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %s", provider)
	}
}

func parseProvider(url string) (string, string) {
	provider, location, found := strings.Cut(url, "://")
	if !found {
		return "file", url
	}

	return provider, location
}
