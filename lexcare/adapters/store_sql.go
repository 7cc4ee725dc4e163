package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
)

// SQLStore implements ProfileStore and TurnStore over the migrated schema.
type SQLStore struct {
	db     *sql.DB
	limits profile.Limits
}

// NewSQLStore creates a store over an open, migrated database.
func NewSQLStore(db *sql.DB, limits profile.Limits) *SQLStore {
	return &SQLStore{db: db, limits: limits}
}

// GetProfile loads the profile for userID or returns ports.ErrNotFound.
func (s *SQLStore) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	p := profile.New(userID)
	if err := json.Unmarshal([]byte(data), p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return p, nil
}

// MergeProfile folds update into the stored profile inside one transaction.
func (s *SQLStore) MergeProfile(ctx context.Context, update *profile.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin profile merge: %w", err)
	}
	defer tx.Rollback()

	current := profile.New(update.UserID)
	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM profiles WHERE user_id = ?`, update.UserID).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to load profile: %w", err)
	default:
		if err := json.Unmarshal([]byte(data), current); err != nil {
			return fmt.Errorf("failed to unmarshal profile: %w", err)
		}
	}

	current.Merge(update, s.limits)

	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, update.UserID, string(merged), current.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return tx.Commit()
}

// SaveTurn appends a turn record. A replayed (user, turn) pair is ignored.
func (s *SQLStore) SaveTurn(ctx context.Context, rec ports.TurnRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (user_id, turn_id, conversation_id, stage, data, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, turn_id) DO NOTHING
	`, rec.UserID, rec.TurnID, rec.ConversationID, rec.Stage, string(data),
		rec.CreatedAt.UnixMilli(), rec.CreatedAt.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// RecentTurns loads the newest limit turns for a user, newest first.
func (s *SQLStore) RecentTurns(ctx context.Context, userID string, limit int) ([]ports.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM turns
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []ports.TurnRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		var rec ports.TurnRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// PurgeExpired deletes turns whose TTL elapsed before now.
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge turns: %w", err)
	}
	return res.RowsAffected()
}

var (
	_ ports.ProfileStore = (*SQLStore)(nil)
	_ ports.TurnStore    = (*SQLStore)(nil)
)
