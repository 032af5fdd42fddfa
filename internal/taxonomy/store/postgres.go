package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS taxonomy_commits (
    generation   BIGINT PRIMARY KEY,
    chain_start  BIGINT NOT NULL,
    base_ordinal INTEGER NOT NULL,
    size         INTEGER NOT NULL,
    user_data    JSONB NOT NULL,
    committed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS taxonomy_categories (
    chain_start BIGINT NOT NULL,
    generation  BIGINT NOT NULL REFERENCES taxonomy_commits (generation) ON DELETE CASCADE,
    ordinal     INTEGER NOT NULL,
    parent      INTEGER NOT NULL,
    path_key    TEXT NOT NULL,
    path_hash   BIGINT NOT NULL,
    PRIMARY KEY (chain_start, ordinal)
);
CREATE INDEX IF NOT EXISTS taxonomy_categories_hash_idx ON taxonomy_categories (chain_start, path_hash);
`

// PostgresDirectory keeps the taxonomy in two tables. Each category row
// carries the 64-bit path hash so single paths can be resolved through an
// index instead of loading the taxonomy.
//
//	taxonomy_commits    (generation, chain_start, base_ordinal, size, user_data)
//	taxonomy_categories (chain_start, generation, ordinal, parent, path_key, path_hash)
type PostgresDirectory struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgresDirectory creates the schema if it does not exist.
func NewPostgresDirectory(ctx context.Context, db *postgres.Client) (*PostgresDirectory, error) {
	if _, err := db.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating taxonomy schema: %w", err)
	}
	return &PostgresDirectory{
		db:     db,
		logger: slog.Default().With("component", "taxonomy-postgres-store"),
	}, nil
}

func (d *PostgresDirectory) LatestCommit(ctx context.Context) (CommitPoint, error) {
	return latestCommit(ctx, d.db.DB)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestCommit(ctx context.Context, q queryRower) (CommitPoint, error) {
	var (
		cp       CommitPoint
		userData []byte
	)
	err := q.QueryRowContext(ctx,
		`SELECT generation, chain_start, size, user_data FROM taxonomy_commits ORDER BY generation DESC LIMIT 1`,
	).Scan(&cp.Generation, &cp.ChainStart, &cp.Size, &userData)
	if errors.Is(err, sql.ErrNoRows) {
		return CommitPoint{}, apperrors.ErrIndexNotFound
	}
	if err != nil {
		return CommitPoint{}, fmt.Errorf("querying latest taxonomy commit: %w", err)
	}
	cp.UserData = map[string]string{}
	if err := json.Unmarshal(userData, &cp.UserData); err != nil {
		return CommitPoint{}, fmt.Errorf("%w: parsing commit data: %v", apperrors.ErrCorruptData, err)
	}
	return cp, nil
}

func (d *PostgresDirectory) ReadCategories(ctx context.Context, cp CommitPoint, from, to int32) ([]Category, error) {
	if from < 0 || to > cp.Size || from > to {
		return nil, fmt.Errorf("%w: range [%d, %d) outside snapshot of %d", apperrors.ErrInvalidArgument, from, to, cp.Size)
	}
	rows, err := d.db.DB.QueryContext(ctx,
		`SELECT ordinal, parent, path_key FROM taxonomy_categories
		 WHERE chain_start = $1 AND generation <= $2 AND ordinal >= $3 AND ordinal < $4
		 ORDER BY ordinal`,
		cp.ChainStart, cp.Generation, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("querying taxonomy categories: %w", err)
	}
	defer rows.Close()

	out := make([]Category, 0, to-from)
	for rows.Next() {
		var (
			ordinal, parent int32
			key             string
		)
		if err := rows.Scan(&ordinal, &parent, &key); err != nil {
			return nil, fmt.Errorf("scanning taxonomy category: %w", err)
		}
		if ordinal != from+int32(len(out)) {
			return nil, fmt.Errorf("%w: missing ordinal %d", apperrors.ErrCorruptData, from+int32(len(out)))
		}
		p, err := category.ParseKey(key)
		if err != nil {
			return nil, err
		}
		out = append(out, Category{Path: p, Parent: parent})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating taxonomy categories: %w", err)
	}
	if int32(len(out)) != to-from {
		return nil, fmt.Errorf("%w: read %d categories for range [%d, %d)", apperrors.ErrCorruptData, len(out), from, to)
	}
	return out, nil
}

func (d *PostgresDirectory) Commit(ctx context.Context, base int32, cats []Category, userData map[string]string) (CommitPoint, error) {
	if userData == nil {
		userData = map[string]string{}
	}
	userBytes, err := json.Marshal(userData)
	if err != nil {
		return CommitPoint{}, fmt.Errorf("marshaling commit data: %w", err)
	}

	start := time.Now()
	var cp CommitPoint
	err = d.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE taxonomy_commits IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("locking taxonomy commits: %w", err)
		}
		latest, err := latestCommit(ctx, tx)
		if err != nil && !errors.Is(err, apperrors.ErrIndexNotFound) {
			return err
		}
		if base != 0 && base != latest.Size {
			return fmt.Errorf("%w: commit base %d does not match taxonomy size %d", apperrors.ErrIllegalState, base, latest.Size)
		}
		cp = CommitPoint{
			Generation: latest.Generation + 1,
			ChainStart: latest.ChainStart,
			Size:       base + int32(len(cats)),
			UserData:   cloneUserData(userData),
		}
		if base == 0 {
			cp.ChainStart = cp.Generation
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO taxonomy_commits (generation, chain_start, base_ordinal, size, user_data) VALUES ($1, $2, $3, $4, $5)`,
			cp.Generation, cp.ChainStart, base, cp.Size, userBytes,
		); err != nil {
			return fmt.Errorf("inserting taxonomy commit: %w", err)
		}
		if len(cats) > 0 {
			if err := copyCategories(ctx, tx, cp, base, cats); err != nil {
				return err
			}
		}
		if base == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM taxonomy_commits WHERE generation < $1`, cp.Generation); err != nil {
				return fmt.Errorf("removing superseded commits: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return CommitPoint{}, err
	}
	d.logger.Debug("taxonomy commit stored",
		"generation", cp.Generation,
		"categories", len(cats),
		"duration", time.Since(start),
	)
	return cp, nil
}

func copyCategories(ctx context.Context, tx *sql.Tx, cp CommitPoint, base int32, cats []Category) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("taxonomy_categories",
		"chain_start", "generation", "ordinal", "parent", "path_key", "path_hash"))
	if err != nil {
		return fmt.Errorf("preparing category copy: %w", err)
	}
	defer stmt.Close()
	for i, c := range cats {
		if _, err := stmt.ExecContext(ctx,
			cp.ChainStart, cp.Generation, base+int32(i), c.Parent, c.Path.Key(), int64(c.Path.LongHash()),
		); err != nil {
			return fmt.Errorf("copying category %v: %w", c.Path, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flushing category copy: %w", err)
	}
	return nil
}

// FindOrdinal resolves p through the hash index.
func (d *PostgresDirectory) FindOrdinal(ctx context.Context, cp CommitPoint, p category.Path) (int32, bool, error) {
	rows, err := d.db.DB.QueryContext(ctx,
		`SELECT ordinal, path_key FROM taxonomy_categories
		 WHERE chain_start = $1 AND path_hash = $2 AND generation <= $3`,
		cp.ChainStart, int64(p.LongHash()), cp.Generation,
	)
	if err != nil {
		return 0, false, fmt.Errorf("looking up category %v: %w", p, err)
	}
	defer rows.Close()
	want := p.Key()
	for rows.Next() {
		var (
			ordinal int32
			key     string
		)
		if err := rows.Scan(&ordinal, &key); err != nil {
			return 0, false, fmt.Errorf("scanning category lookup: %w", err)
		}
		if key == want {
			return ordinal, true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("iterating category lookup: %w", err)
	}
	return 0, false, nil
}

// Close does not close the shared database client.
func (d *PostgresDirectory) Close() error { return nil }

// Ping checks the database connection.
func (d *PostgresDirectory) Ping(ctx context.Context) error { return d.db.Ping(ctx) }
