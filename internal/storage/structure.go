package storage

import (
	"context"
	"database/sql"

	"github.com/hyperjump/taleweave/internal/models"
)

// CreateChapters inserts chapters in a transaction.
func (s *SQLiteStorage) CreateChapters(ctx context.Context, chapters []*models.Chapter) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chapters (id, document_id, chapter_index, title, start_char, end_char)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chapters {
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.DocumentID, ch.Index, ch.Title, ch.StartChar, ch.EndChar); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChapters returns the chapters of a document ordered by index.
func (s *SQLiteStorage) GetChapters(ctx context.Context, docID string) ([]*models.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chapter_index, title, start_char, end_char
		 FROM chapters WHERE document_id = ? ORDER BY chapter_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []*models.Chapter
	for rows.Next() {
		var ch models.Chapter
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Index, &ch.Title, &ch.StartChar, &ch.EndChar); err != nil {
			return nil, err
		}
		chapters = append(chapters, &ch)
	}
	return chapters, rows.Err()
}

// CreateScenes inserts scenes in a transaction.
func (s *SQLiteStorage) CreateScenes(ctx context.Context, scenes []*models.Scene) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scenes (id, document_id, chapter_id, local_index, global_index, start_char, end_char,
		 summary, pov, location, temporal_hints, main_events)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sc := range scenes {
		if _, err := stmt.ExecContext(ctx, sc.ID, sc.DocumentID, sc.ChapterID, sc.LocalIndex, sc.GlobalIndex,
			sc.StartChar, sc.EndChar, sc.Summary, sc.POV, sc.Location,
			marshalStrings(sc.TemporalHints), marshalStrings(sc.MainEvents)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetScenes returns the scenes of a document ordered by global index.
func (s *SQLiteStorage) GetScenes(ctx context.Context, docID string) ([]*models.Scene, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chapter_id, local_index, global_index, start_char, end_char,
		 summary, pov, location, temporal_hints, main_events
		 FROM scenes WHERE document_id = ? ORDER BY global_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenes []*models.Scene
	for rows.Next() {
		var sc models.Scene
		var hints, events string
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.ChapterID, &sc.LocalIndex, &sc.GlobalIndex,
			&sc.StartChar, &sc.EndChar, &sc.Summary, &sc.POV, &sc.Location, &hints, &events); err != nil {
			return nil, err
		}
		sc.TemporalHints = unmarshalStrings(hints)
		sc.MainEvents = unmarshalStrings(events)
		scenes = append(scenes, &sc)
	}
	return scenes, rows.Err()
}

// MaxGlobalSceneIndex returns the last global scene index of a document, or -1 when it has no scenes.
func (s *SQLiteStorage) MaxGlobalSceneIndex(ctx context.Context, docID string) (int, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(global_index) FROM scenes WHERE document_id = ?`, docID).Scan(&max); err != nil {
		return -1, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// DeleteStructure removes the chapters and scenes of a document so it can be re-ingested.
func (s *SQLiteStorage) DeleteStructure(ctx context.Context, docID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM scenes WHERE document_id = ?`, docID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE document_id = ?`, docID); err != nil {
		return err
	}
	return tx.Commit()
}
