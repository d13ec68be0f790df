// Package sqlite implements the vector store driver on a local SQLite
// database. Intended for development and single-user deployments: vectors
// are stored as raw float32 blobs and similarity is computed in process
// with a full scan, which is fine for personal-scale collections.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/everlore/recall/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens (creating if needed) a SQLite database at dsn.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn is empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// The modernc driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) bootstrap(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS collection_registry (
			name TEXT PRIMARY KEY,
			dimensions INTEGER NOT NULL,
			created_ts BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS point (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			embedding BLOB NOT NULL,
			text TEXT NOT NULL,
			speaker TEXT NOT NULL,
			namespace_key TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_point_namespace ON point(collection, namespace_key);
	`)
	return errors.Wrap(err, "failed to create schema")
}

func (d *DB) CollectionExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM collection_registry WHERE name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "failed to probe collection")
	}
	return count > 0, nil
}

func (d *DB) CreateCollection(ctx context.Context, name string, dimensions int) error {
	if dimensions <= 0 {
		return errors.Errorf("invalid dimensions: %d", dimensions)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO collection_registry (name, dimensions, created_ts)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`, name, dimensions, time.Now().UnixMilli())
	return errors.Wrap(err, "failed to register collection")
}

func (d *DB) UpsertPoint(ctx context.Context, collection string, record store.MemoryRecord) error {
	dims, err := d.collectionDimensions(ctx, collection)
	if err != nil {
		return err
	}
	if len(record.Vector) != dims {
		return errors.Errorf("vector dimensionality mismatch: got %d, collection %s expects %d",
			len(record.Vector), collection, dims)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO point (collection, id, embedding, text, speaker, namespace_key, message_id, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			embedding = excluded.embedding,
			text = excluded.text,
			speaker = excluded.speaker,
			message_id = excluded.message_id,
			created_ts = excluded.created_ts
	`, collection, record.ID, encodeVector(record.Vector), record.Text,
		string(record.Speaker), record.NamespaceKey, record.MessageID, record.CreatedAt)
	return errors.Wrap(err, "failed to upsert point")
}

func (d *DB) Search(ctx context.Context, collection string, opts store.SearchOptions) ([]store.ScoredRecord, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	if exists, err := d.CollectionExists(ctx, collection); err != nil {
		return nil, err
	} else if !exists {
		return nil, errors.Errorf("collection %s does not exist", collection)
	}

	query := `
		SELECT id, embedding, text, speaker, namespace_key, message_id, created_ts
		FROM point WHERE collection = ?
	`
	args := []any{collection}
	if opts.NamespaceKey != "" {
		query += " AND namespace_key = ?"
		args = append(args, opts.NamespaceKey)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan collection")
	}
	defer rows.Close()

	results := []store.ScoredRecord{}
	for rows.Next() {
		var rec store.ScoredRecord
		var speaker string
		var blob []byte
		if err := rows.Scan(&rec.ID, &blob, &rec.Text, &speaker,
			&rec.NamespaceKey, &rec.MessageID, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan point")
		}
		rec.Speaker = store.Speaker(speaker)
		rec.Score = cosineSimilarity(opts.Vector, decodeVector(blob))
		if rec.Score < opts.ScoreThreshold {
			continue
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate points")
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (d *DB) GetCollectionInfo(ctx context.Context, name string) (*store.CollectionInfo, error) {
	dims, err := d.collectionDimensions(ctx, name)
	if err != nil {
		return nil, err
	}
	var count int
	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM point WHERE collection = ?", name,
	).Scan(&count); err != nil {
		return nil, errors.Wrap(err, "failed to count points")
	}
	return &store.CollectionInfo{PointCount: count, VectorCount: count, Dimensions: dims}, nil
}

func (d *DB) DeleteCollection(ctx context.Context, name string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM point WHERE collection = ?", name); err != nil {
		return errors.Wrap(err, "failed to delete points")
	}
	_, err := d.db.ExecContext(ctx, "DELETE FROM collection_registry WHERE name = ?", name)
	return errors.Wrap(err, "failed to deregister collection")
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) collectionDimensions(ctx context.Context, name string) (int, error) {
	var dims int
	err := d.db.QueryRowContext(ctx,
		"SELECT dimensions FROM collection_registry WHERE name = ?", name,
	).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, errors.Errorf("collection %s does not exist", name)
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to look up collection dimensions")
	}
	return dims, nil
}

// encodeVector packs a vector as little-endian float32 bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
