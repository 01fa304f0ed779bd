package vector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperjump/taleweave/internal/models"
)

var collectionName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PGVectorIndex stores fragments in a Postgres table with a pgvector column.
// Filters are SQL WHERE clauses so ranking only sees scoped rows.
type PGVectorIndex struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

// NewPGVectorIndex connects to Postgres and returns an index over table collection.
func NewPGVectorIndex(ctx context.Context, connString, collection string, dimensions int) (*PGVectorIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name: %q", collection)
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PGVectorIndex{pool: pool, table: collection, dimensions: dimensions}, nil
}

// Dimensions returns the vector dimension.
func (p *PGVectorIndex) Dimensions() int {
	return p.dimensions
}

// EnsureCollection creates the pgvector extension, table and indexes if absent.
func (p *PGVectorIndex) EnsureCollection(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			layer TEXT NOT NULL,
			text TEXT NOT NULL,
			chapter_id TEXT NOT NULL DEFAULT '',
			scene_id TEXT NOT NULL DEFAULT '',
			global_scene_index INTEGER,
			entity_names TEXT[] NOT NULL DEFAULT '{}',
			entity_keys TEXT[] NOT NULL DEFAULT '{}',
			labels TEXT[] NOT NULL DEFAULT '{}',
			label_keys TEXT[] NOT NULL DEFAULT '{}',
			start_char INTEGER NOT NULL DEFAULT 0,
			end_char INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL DEFAULT 0,
			temporal_hints TEXT[] NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, p.table, p.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_scope_idx ON %s (owner_id, document_id, layer)`, p.table, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_entity_idx ON %s USING GIN (entity_keys)`, p.table, p.table),
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("failed to ensure collection: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces fragments by ID in one batch.
func (p *PGVectorIndex) Upsert(ctx context.Context, fragments []*models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, owner_id, document_id, layer, text, chapter_id, scene_id,
		global_scene_index, entity_names, entity_keys, labels, label_keys, start_char, end_char, position,
		temporal_hints, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17::vector)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id, document_id = EXCLUDED.document_id, layer = EXCLUDED.layer,
			text = EXCLUDED.text, chapter_id = EXCLUDED.chapter_id, scene_id = EXCLUDED.scene_id,
			global_scene_index = EXCLUDED.global_scene_index, entity_names = EXCLUDED.entity_names,
			entity_keys = EXCLUDED.entity_keys, labels = EXCLUDED.labels, label_keys = EXCLUDED.label_keys,
			start_char = EXCLUDED.start_char, end_char = EXCLUDED.end_char, position = EXCLUDED.position,
			temporal_hints = EXCLUDED.temporal_hints, embedding = EXCLUDED.embedding`, p.table)

	batch := &pgx.Batch{}
	for _, f := range fragments {
		if len(f.Embedding) != p.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(f.Embedding), p.dimensions)
		}
		batch.Queue(query, f.ID, f.OwnerID, f.DocumentID, string(f.Layer), f.Text, f.ChapterID, f.SceneID,
			f.GlobalSceneIndex, nonNil(f.EntityNames), lowerAll(f.EntityNames), nonNil(f.Labels), lowerAll(f.Labels),
			f.StartChar, f.EndChar, f.Position, nonNil(f.TemporalHints), formatVector(f.Embedding))
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range fragments {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert fragment: %w", err)
		}
	}
	return nil
}

const pgColumns = `id, owner_id, document_id, layer, text, chapter_id, scene_id, global_scene_index,
	entity_names, labels, start_char, end_char, position, temporal_hints`

// Search returns the top-k fragments matching filter ordered by cosine distance.
func (p *PGVectorIndex) Search(ctx context.Context, query []float32, filter Filter, k int) ([]models.ScoredFragment, error) {
	if len(query) != p.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), p.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	args := []any{formatVector(query)}
	where := buildWhere(filter, &args)
	args = append(args, k)
	sql := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $1::vector) AS score
		FROM %s %s
		ORDER BY embedding <=> $1::vector
		LIMIT $%d`, pgColumns, p.table, where, len(args))

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredFragment
	for rows.Next() {
		var score float64
		f, err := scanFragment(rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ScoredFragment{Fragment: f, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fragments: %w", err)
	}
	return out, nil
}

// Delete removes every fragment matching filter.
func (p *PGVectorIndex) Delete(ctx context.Context, filter Filter) error {
	var args []any
	where := buildWhere(filter, &args)
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s %s`, p.table, where), args...); err != nil {
		return fmt.Errorf("failed to delete fragments: %w", err)
	}
	return nil
}

// Scroll returns matching fragments ordered by position.
func (p *PGVectorIndex) Scroll(ctx context.Context, filter Filter) ([]*models.Fragment, error) {
	var args []any
	where := buildWhere(filter, &args)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY position, id`, pgColumns, p.table, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scroll fragments: %w", err)
	}
	defer rows.Close()

	var out []*models.Fragment
	for rows.Next() {
		f, err := scanFragment(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Count returns the number of fragments matching filter.
func (p *PGVectorIndex) Count(ctx context.Context, filter Filter) (int, error) {
	var args []any
	where := buildWhere(filter, &args)
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, p.table, where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fragments: %w", err)
	}
	return n, nil
}

// Health pings the database.
func (p *PGVectorIndex) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool.
func (p *PGVectorIndex) Close() error {
	p.pool.Close()
	return nil
}

// buildWhere renders filter as a WHERE clause, appending its parameters to args.
func buildWhere(filter Filter, args *[]any) string {
	var conds []string
	add := func(cond string, v any) {
		*args = append(*args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(*args))))
	}
	if filter.OwnerID != "" {
		add("owner_id = ?", filter.OwnerID)
	}
	if filter.DocumentID != "" {
		add("document_id = ?", filter.DocumentID)
	}
	if len(filter.Layers) > 0 {
		layers := make([]string, len(filter.Layers))
		for i, l := range filter.Layers {
			layers[i] = string(l)
		}
		add("layer = ANY(?)", layers)
	}
	if len(filter.IDs) > 0 {
		add("id = ANY(?)", filter.IDs)
	}
	if filter.SceneRange != nil {
		add("global_scene_index >= ?", filter.SceneRange.Start)
		add("global_scene_index <= ?", filter.SceneRange.End)
	}
	if len(filter.EntityNames) > 0 {
		add("entity_keys && ?", lowerAll(filter.EntityNames))
	}
	if len(filter.Labels) > 0 {
		add("label_keys && ?", lowerAll(filter.Labels))
	}
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

func scanFragment(rows pgx.Rows, score *float64) (*models.Fragment, error) {
	var f models.Fragment
	var layer string
	dest := []any{&f.ID, &f.OwnerID, &f.DocumentID, &layer, &f.Text, &f.ChapterID, &f.SceneID,
		&f.GlobalSceneIndex, &f.EntityNames, &f.Labels, &f.StartChar, &f.EndChar, &f.Position, &f.TemporalHints}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan fragment: %w", err)
	}
	f.Layer = models.Layer(layer)
	return &f, nil
}

// formatVector formats an embedding as a pgvector literal.
func formatVector(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', 6, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
