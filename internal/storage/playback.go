package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sonata-music/sonata/pkg/types"
)

// RecordPlay appends one entry to the play history and fills in its ID.
func (d *Database) RecordPlay(ctx context.Context, entry *types.PlayHistoryEntry) error {
	if err := d.checkClosed(); err != nil {
		return err
	}
	if entry.PlayedAt.IsZero() {
		entry.PlayedAt = time.Now()
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO play_history (track_id, title, artist_name, played_at) VALUES (?, ?, ?, ?)`,
		entry.TrackID, entry.Title, entry.ArtistName, stamp(entry.PlayedAt))
	if err != nil {
		return fmt.Errorf("insert play history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// RecentPlays lists history newest first.
func (d *Database) RecentPlays(ctx context.Context, limit int) (entries []*types.PlayHistoryEntry, err error) {
	start := time.Now()
	defer func() { d.logFailure("RecentPlays", start, err) }()

	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, track_id, title, artist_name, played_at FROM play_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query play history: %w", err)
	}
	defer d.closeRows(rows)

	for rows.Next() {
		var e types.PlayHistoryEntry
		if err := rows.Scan(&e.ID, &e.TrackID, &e.Title, &e.ArtistName, &e.PlayedAt); err != nil {
			return nil, fmt.Errorf("scan play history: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PrunePlayHistory keeps only the newest keep entries. keep <= 0 disables pruning.
func (d *Database) PrunePlayHistory(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	if err := d.checkClosed(); err != nil {
		return 0, err
	}

	res, err := d.db.ExecContext(ctx, `
		DELETE FROM play_history WHERE id NOT IN (
			SELECT id FROM play_history ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune play history: %w", err)
	}
	return res.RowsAffected()
}

// SaveQueueState overwrites the persisted queue.
func (d *Database) SaveQueueState(ctx context.Context, state *types.QueueState) error {
	if err := d.checkClosed(); err != nil {
		return err
	}
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}

	if _, err := d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO queue_state (id, state, saved_at) VALUES (1, ?, ?)`,
		string(data), stamp(state.SavedAt)); err != nil {
		return fmt.Errorf("save queue state: %w", err)
	}

	d.logger.Debug("queue state saved",
		zap.Int("tracks", len(state.Tracks)),
		zap.Int("index", state.CurrentIndex))
	return nil
}

// LoadQueueState returns nil without an error when nothing was saved.
func (d *Database) LoadQueueState(ctx context.Context) (*types.QueueState, error) {
	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	var data string
	err := d.db.QueryRowContext(ctx, `SELECT state FROM queue_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue state: %w", err)
	}

	var state types.QueueState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("decode queue state: %w", err)
	}
	return &state, nil
}

func (d *Database) ClearQueueState(ctx context.Context) error {
	if err := d.checkClosed(); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, `DELETE FROM queue_state`)
	return err
}
