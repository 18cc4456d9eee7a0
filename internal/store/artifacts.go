package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const artifactColumns = "unit_id, kind, path, prompt_hash, size_bytes, created_at"

func scanArtifact(scanner rowScanner) (*Artifact, error) {
	var (
		artifact   Artifact
		createdRaw string
	)
	if err := scanner.Scan(&artifact.UnitID, &artifact.Kind, &artifact.Path, &artifact.PromptHash, &artifact.SizeBytes, &createdRaw); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		artifact.CreatedAt = created
	}
	return &artifact, nil
}

// UpsertArtifact records the current artifact for (unit, kind), replacing any
// previous row.
func (s *Store) UpsertArtifact(ctx context.Context, artifact Artifact) (*Artifact, error) {
	artifact.Kind = strings.TrimSpace(artifact.Kind)
	if artifact.Kind == "" {
		return nil, errors.New("artifact kind is required")
	}
	if strings.TrimSpace(artifact.Path) == "" {
		return nil, errors.New("artifact path is required")
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO artifacts (unit_id, kind, path, prompt_hash, size_bytes, created_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(unit_id, kind) DO UPDATE SET
             path = excluded.path,
             prompt_hash = excluded.prompt_hash,
             size_bytes = excluded.size_bytes,
             created_at = excluded.created_at`,
		artifact.UnitID,
		artifact.Kind,
		artifact.Path,
		artifact.PromptHash,
		artifact.SizeBytes,
		formatTime(artifact.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("upsert artifact: %w", err)
	}
	return &artifact, nil
}

// GetArtifact returns the current artifact for (unit, kind), or nil.
func (s *Store) GetArtifact(ctx context.Context, unitID int64, kind string) (*Artifact, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+artifactColumns+` FROM artifacts WHERE unit_id = ? AND kind = ?`,
		unitID, kind,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return artifact, nil
}

// ListArtifacts returns all current artifacts for a unit ordered by creation.
func (s *Store) ListArtifacts(ctx context.Context, unitID int64) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+artifactColumns+` FROM artifacts WHERE unit_id = ? ORDER BY created_at, kind`,
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}
