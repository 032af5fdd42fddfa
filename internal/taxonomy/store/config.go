package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/postgres"
)

// FromConfig opens the directory selected by cfg.Backend. The returned
// close function releases the directory and any connection it opened.
func FromConfig(ctx context.Context, cfg config.TaxonomyConfig, pg config.PostgresConfig) (Directory, func() error, error) {
	switch cfg.Backend {
	case "", "file":
		dir, err := OpenFileDirectory(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return dir, dir.Close, nil
	case "postgres":
		client, err := postgres.New(ctx, pg)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting taxonomy store: %w", err)
		}
		dir, err := NewPostgresDirectory(ctx, client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return dir, func() error { return errors.Join(dir.Close(), client.Close()) }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown taxonomy backend %q", apperrors.ErrInvalidArgument, cfg.Backend)
	}
}
