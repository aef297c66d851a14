package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/autra-ai/marketplace/internal/database"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AddVersionRequest represents a new release entry
type AddVersionRequest struct {
	VersionNumber string `json:"version_number" binding:"required,max=20"`
	Changelog     string `json:"changelog" binding:"required"`
	IsStable      *bool  `json:"is_stable,omitempty"`
}

// AddVersion records a release of the agent. Version numbers are unique per agent.
func (s *Service) AddVersion(ctx context.Context, agentID, developerID uuid.UUID, req *AddVersionRequest) (*models.AgentVersion, error) {
	v := &models.AgentVersion{
		ID:            uuid.New(),
		AgentID:       agentID,
		VersionNumber: strings.TrimSpace(req.VersionNumber),
		Changelog:     req.Changelog,
		IsStable:      true,
	}
	if req.IsStable != nil {
		v.IsStable = *req.IsStable
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}

	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := loadOwnedAgent(ctx, tx, agentID, developerID); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO agent_versions (id, agent_id, version_number, changelog, is_stable)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING release_date
		`, v.ID, v.AgentID, v.VersionNumber, v.Changelog, v.IsStable).Scan(&v.ReleaseDate)
		if err != nil {
			return fmt.Errorf("failed to insert version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListVersions returns the agent's releases, newest first
func (s *Service) ListVersions(ctx context.Context, agentID uuid.UUID) ([]models.AgentVersion, error) {
	if _, err := loadAgent(ctx, s.db, agentID, false); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, version_number, changelog, is_stable, release_date
		FROM agent_versions
		WHERE agent_id = $1
		ORDER BY release_date DESC, version_number DESC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := []models.AgentVersion{}
	for rows.Next() {
		var v models.AgentVersion
		if err := rows.Scan(&v.ID, &v.AgentID, &v.VersionNumber, &v.Changelog, &v.IsStable, &v.ReleaseDate); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return versions, nil
}

// SetVersionStable flags a release stable or unstable. It is the only mutable version field.
func (s *Service) SetVersionStable(ctx context.Context, agentID, versionID, developerID uuid.UUID, stable bool) (*models.AgentVersion, error) {
	var v models.AgentVersion
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := loadOwnedAgent(ctx, tx, agentID, developerID); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `
			UPDATE agent_versions SET is_stable = $3
			WHERE id = $1 AND agent_id = $2
			RETURNING id, agent_id, version_number, changelog, is_stable, release_date
		`, versionID, agentID, stable).Scan(&v.ID, &v.AgentID, &v.VersionNumber, &v.Changelog, &v.IsStable, &v.ReleaseDate)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVersionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to update version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}
