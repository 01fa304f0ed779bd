package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hyperjump/taleweave/internal/models"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UpsertCharacter inserts or replaces the character record keyed by (document, name).
func (s *SQLiteStorage) UpsertCharacter(ctx context.Context, rec *models.CharacterRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO character_records (id, document_id, owner_id, name, aliases, role, traits, mention_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id, name) DO UPDATE SET
		   aliases = excluded.aliases,
		   role = excluded.role,
		   traits = excluded.traits,
		   mention_count = excluded.mention_count`,
		rec.ID, rec.DocumentID, rec.OwnerID, rec.Name, marshalStrings(rec.Aliases), rec.Role,
		marshalStrings(rec.Traits), rec.MentionCount,
	)
	return err
}

// ListCharacters returns the character records of a document, most mentioned first.
func (s *SQLiteStorage) ListCharacters(ctx context.Context, docID string) ([]*models.CharacterRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, owner_id, name, aliases, role, traits, mention_count
		 FROM character_records WHERE document_id = ? ORDER BY mention_count DESC, name`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CharacterRecord
	for rows.Next() {
		var rec models.CharacterRecord
		var aliases, traits string
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.OwnerID, &rec.Name, &aliases, &rec.Role, &traits, &rec.MentionCount); err != nil {
			return nil, err
		}
		rec.Aliases = unmarshalStrings(aliases)
		rec.Traits = unmarshalStrings(traits)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// UpsertSceneDigest inserts or replaces the digest keyed by (document, block index).
func (s *SQLiteStorage) UpsertSceneDigest(ctx context.Context, d *models.SceneDigest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scene_digests (id, document_id, block_index, summary, characters, start_position, end_position)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id, block_index) DO UPDATE SET
		   summary = excluded.summary,
		   characters = excluded.characters,
		   start_position = excluded.start_position,
		   end_position = excluded.end_position`,
		d.ID, d.DocumentID, d.BlockIndex, d.Summary, marshalStrings(d.Characters), d.StartPosition, d.EndPosition,
	)
	return err
}

// ListSceneDigests returns the digests of a document in block order.
func (s *SQLiteStorage) ListSceneDigests(ctx context.Context, docID string) ([]*models.SceneDigest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, block_index, summary, characters, start_position, end_position
		 FROM scene_digests WHERE document_id = ? ORDER BY block_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SceneDigest
	for rows.Next() {
		var d models.SceneDigest
		var chars string
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.BlockIndex, &d.Summary, &chars, &d.StartPosition, &d.EndPosition); err != nil {
			return nil, err
		}
		d.Characters = unmarshalStrings(chars)
		out = append(out, &d)
	}
	return out, rows.Err()
}
