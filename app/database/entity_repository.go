package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ EntityRepository = (*EntityRepositoryImpl)(nil)

// EntityRepositoryImpl handles database operations for the athlete registry.
// The detection pipeline treats this data as read-only; writes come from the
// registry API.
type EntityRepositoryImpl struct {
	db *DB
}

func NewEntityRepository(db *DB) *EntityRepositoryImpl {
	return &EntityRepositoryImpl{db: db}
}

func (r *EntityRepositoryImpl) GetAllEntities() ([]Entity, error) {
	rows, err := r.db.Query(`
		SELECT id, canonical_name, sport, team, created_at, updated_at
		FROM entities
		ORDER BY canonical_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.CanonicalName, &e.Sport, &e.Team, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity rows: %w", err)
	}

	for i := range entities {
		aliases, err := r.getAliases(entities[i].ID)
		if err != nil {
			return nil, err
		}
		entities[i].Aliases = aliases
	}

	return entities, nil
}

func (r *EntityRepositoryImpl) GetEntity(id string) (*Entity, error) {
	var e Entity
	err := r.db.QueryRow(`
		SELECT id, canonical_name, sport, team, created_at, updated_at
		FROM entities
		WHERE id = ?
	`, id).Scan(&e.ID, &e.CanonicalName, &e.Sport, &e.Team, &e.CreatedAt, &e.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	aliases, err := r.getAliases(e.ID)
	if err != nil {
		return nil, err
	}
	e.Aliases = aliases

	return &e, nil
}

// UpsertEntity creates or updates an entity by canonical name and replaces
// its alias set.
func (r *EntityRepositoryImpl) UpsertEntity(canonicalName, sport, team string, aliases []string) (string, error) {
	now := time.Now().UTC()

	var id string
	err := r.db.QueryRow(`
		INSERT INTO entities (id, canonical_name, sport, team, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (canonical_name) DO UPDATE SET
			sport = excluded.sport,
			team = excluded.team,
			updated_at = excluded.updated_at
		RETURNING id
	`, uuid.NewString(), canonicalName, sport, team, now, now).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to upsert entity: %w", err)
	}

	if _, err := r.db.Exec(`DELETE FROM entity_aliases WHERE entity_id = ?`, id); err != nil {
		return "", fmt.Errorf("failed to clear entity aliases: %w", err)
	}

	for _, alias := range aliases {
		_, err := r.db.Exec(`
			INSERT INTO entity_aliases (entity_id, alias) VALUES (?, ?)
			ON CONFLICT (entity_id, alias) DO NOTHING
		`, id, alias)
		if err != nil {
			return "", fmt.Errorf("failed to insert entity alias: %w", err)
		}
	}

	return id, nil
}

func (r *EntityRepositoryImpl) GetEntityCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get entity count: %w", err)
	}
	return count, nil
}

func (r *EntityRepositoryImpl) getAliases(entityID string) ([]string, error) {
	rows, err := r.db.Query(`SELECT alias FROM entity_aliases WHERE entity_id = ? ORDER BY alias`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("failed to scan alias row: %w", err)
		}
		aliases = append(aliases, alias)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alias rows: %w", err)
	}

	return aliases, nil
}
