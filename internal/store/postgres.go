package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"blueprint/api/internal/util"
)

// ErrNotFound is returned when an update or delete targets a row that does
// not exist for the given owner.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const artifactColumns = `id, owner_id, tool_type, title, content, status, created_at, updated_at`

func scanArtifact(row interface{ Scan(...any) error }) (Artifact, error) {
	var item Artifact
	err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.ToolType,
		&item.Title,
		&item.Content,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

// InsertArtifact creates a new artifact row with a fresh id and returns it.
// The store assigns id and both timestamps.
func (s *PostgresStore) InsertArtifact(ctx context.Context, ownerID string, patch ArtifactPatch) (Artifact, error) {
	id := util.NewID("art")
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO artifacts (id, owner_id, tool_type, title, content, status)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING `+artifactColumns+`
	`, id, ownerID, patch.ToolType, patch.Title, string(patch.Content), patch.Status)
	item, err := scanArtifact(row)
	if err != nil {
		return Artifact{}, fmt.Errorf("insert artifact: %w", mapError(err))
	}
	return item, nil
}

// UpdateArtifact overwrites the mutable fields of an existing row and bumps
// updated_at. tool_type is immutable per record and is not touched.
func (s *PostgresStore) UpdateArtifact(ctx context.Context, ownerID, artifactID string, patch ArtifactPatch) (Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE artifacts
		SET title=$3, content=$4::jsonb, status=$5, updated_at=NOW()
		WHERE id=$1 AND owner_id=$2
		RETURNING `+artifactColumns+`
	`, artifactID, ownerID, patch.Title, string(patch.Content), patch.Status)
	item, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("update artifact: %w", mapError(err))
	}
	return item, nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, ownerID, artifactID string) (Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE id=$1 AND owner_id=$2
	`, artifactID, ownerID)
	item, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("get artifact: %w", mapError(err))
	}
	return item, nil
}

// GetLatestArtifactByType returns the most recently updated artifact of a
// tool type for the owner, or nil when none exists. Ties on updated_at are
// broken by id so the result is deterministic.
func (s *PostgresStore) GetLatestArtifactByType(ctx context.Context, ownerID, toolType string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE owner_id=$1 AND tool_type=$2
		ORDER BY updated_at DESC, id ASC
		LIMIT 1
	`, ownerID, toolType)
	item, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest artifact: %w", mapError(err))
	}
	return &item, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, ownerID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE owner_id=$1
		ORDER BY updated_at DESC, id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", mapError(err))
	}
	defer rows.Close()

	items := make([]Artifact, 0)
	for rows.Next() {
		item, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteArtifact(ctx context.Context, ownerID, artifactID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM artifacts WHERE id=$1 AND owner_id=$2
	`, artifactID, ownerID)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete artifact rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListMilestones(ctx context.Context, ownerID string) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, label, done, created_at, updated_at
		FROM milestones
		WHERE owner_id=$1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	items := make([]Milestone, 0)
	for rows.Next() {
		var item Milestone
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Label, &item.Done, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMilestone(ctx context.Context, ownerID, label string) (Milestone, error) {
	id := util.NewID("ms")
	var item Milestone
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO milestones (id, owner_id, label)
		VALUES ($1, $2, $3)
		RETURNING id, owner_id, label, done, created_at, updated_at
	`, id, ownerID, label).Scan(&item.ID, &item.OwnerID, &item.Label, &item.Done, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ToggleMilestone(ctx context.Context, ownerID, milestoneID string) (Milestone, error) {
	var item Milestone
	err := s.db.QueryRowContext(ctx, `
		UPDATE milestones
		SET done=NOT done, updated_at=NOW()
		WHERE id=$1 AND owner_id=$2
		RETURNING id, owner_id, label, done, created_at, updated_at
	`, milestoneID, ownerID).Scan(&item.ID, &item.OwnerID, &item.Label, &item.Done, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Milestone{}, ErrNotFound
	}
	if err != nil {
		return Milestone{}, fmt.Errorf("toggle milestone: %w", err)
	}
	return item, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
