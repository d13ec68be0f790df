// Package postgres implements the vector store driver on PostgreSQL with
// the pgvector extension. Each collection maps to its own table with a
// fixed-dimension vector column; cosine distance is computed with the
// pgvector `<=>` operator.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/everlore/recall/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens a PostgreSQL connection and prepares the collection
// registry. The pgvector extension must be installed; creating it is
// attempted but failure to do so is deferred to first collection create.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	d := &DB{db: db}
	if err := d.bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) bootstrap(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errors.Wrap(err, "failed to create pgvector extension")
	}
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS collection_registry (
			name TEXT PRIMARY KEY,
			dimensions INT NOT NULL,
			created_ts BIGINT NOT NULL
		)
	`)
	return errors.Wrap(err, "failed to create collection registry")
}

func (d *DB) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM collection_registry WHERE name = $1)", name,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to probe collection")
	}
	return exists, nil
}

func (d *DB) CreateCollection(ctx context.Context, name string, dimensions int) error {
	if dimensions <= 0 {
		return errors.Errorf("invalid dimensions: %d", dimensions)
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			text TEXT NOT NULL,
			speaker TEXT NOT NULL,
			namespace_key TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL
		)
	`, tableName(name), dimensions)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to create collection table %s", name)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO collection_registry (name, dimensions, created_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`, name, dimensions, time.Now().UnixMilli())
	return errors.Wrap(err, "failed to register collection")
}

func (d *DB) UpsertPoint(ctx context.Context, collection string, record store.MemoryRecord) error {
	dims, err := d.collectionDimensions(ctx, collection)
	if err != nil {
		return err
	}
	// Reject mismatched vectors outright; pgvector would as well, but the
	// registry makes the failure explicit instead of a cast error.
	if len(record.Vector) != dims {
		return errors.Errorf("vector dimensionality mismatch: got %d, collection %s expects %d",
			len(record.Vector), collection, dims)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, text, speaker, namespace_key, message_id, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			text = EXCLUDED.text,
			speaker = EXCLUDED.speaker,
			message_id = EXCLUDED.message_id,
			created_ts = EXCLUDED.created_ts
	`, tableName(collection))
	_, err = d.db.ExecContext(ctx, stmt,
		record.ID,
		pgvector.NewVector(record.Vector),
		record.Text,
		string(record.Speaker),
		record.NamespaceKey,
		record.MessageID,
		record.CreatedAt,
	)
	return errors.Wrap(err, "failed to upsert point")
}

func (d *DB) Search(ctx context.Context, collection string, opts store.SearchOptions) ([]store.ScoredRecord, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	where, args := []string{"1 = 1"}, []any{pgvector.NewVector(opts.Vector)}
	where = append(where, "1 - (embedding <=> $1) >= "+placeholder(len(args)+1))
	args = append(args, opts.ScoreThreshold)
	if opts.NamespaceKey != "" {
		where = append(where, "namespace_key = "+placeholder(len(args)+1))
		args = append(args, opts.NamespaceKey)
	}
	args = append(args, opts.Limit)

	query := fmt.Sprintf(`
		SELECT id, text, speaker, namespace_key, message_id, created_ts,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT %s
	`, tableName(collection), strings.Join(where, " AND "), placeholder(len(args)))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search collection")
	}
	defer rows.Close()

	results := []store.ScoredRecord{}
	for rows.Next() {
		var rec store.ScoredRecord
		var speaker string
		if err := rows.Scan(&rec.ID, &rec.Text, &speaker, &rec.NamespaceKey,
			&rec.MessageID, &rec.CreatedAt, &rec.Score); err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		rec.Speaker = store.Speaker(speaker)
		results = append(results, rec)
	}
	return results, errors.Wrap(rows.Err(), "failed to iterate search results")
}

func (d *DB) GetCollectionInfo(ctx context.Context, name string) (*store.CollectionInfo, error) {
	dims, err := d.collectionDimensions(ctx, name)
	if err != nil {
		return nil, err
	}
	var count int
	if err := d.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName(name)),
	).Scan(&count); err != nil {
		return nil, errors.Wrap(err, "failed to count points")
	}
	return &store.CollectionInfo{PointCount: count, VectorCount: count, Dimensions: dims}, nil
}

func (d *DB) DeleteCollection(ctx context.Context, name string) error {
	if _, err := d.db.ExecContext(ctx,
		fmt.Sprintf("DROP TABLE IF EXISTS %s", tableName(name)),
	); err != nil {
		return errors.Wrapf(err, "failed to drop collection table %s", name)
	}
	_, err := d.db.ExecContext(ctx, "DELETE FROM collection_registry WHERE name = $1", name)
	return errors.Wrap(err, "failed to deregister collection")
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) collectionDimensions(ctx context.Context, name string) (int, error) {
	var dims int
	err := d.db.QueryRowContext(ctx,
		"SELECT dimensions FROM collection_registry WHERE name = $1", name,
	).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, errors.Errorf("collection %s does not exist", name)
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to look up collection dimensions")
	}
	return dims, nil
}

// tableName maps a collection name onto its quoted data table. Collection
// names arrive sanitized but are quoted anyway.
func tableName(collection string) string {
	return pq.QuoteIdentifier("vec_" + collection)
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
