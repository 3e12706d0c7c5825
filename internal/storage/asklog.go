package storage

import (
	"context"
	"fmt"
	"time"
)

// SaveAsk appends an entry to the ask log. CreatedAt defaults to now.
func (s *Store) SaveAsk(ctx context.Context, e AskEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ask_log (id, created_at, channel, query, answer, record_id, confidence, best_score, matched)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.CreatedAt), e.Channel, e.Query, e.Answer, e.RecordID, e.Confidence, e.BestScore, boolToInt(e.Matched),
	)
	if err != nil {
		return fmt.Errorf("saving ask %s: %w", e.ID, err)
	}
	return nil
}

// RecentAsks returns up to limit log entries, newest first. With
// unmatchedOnly set, only questions that fell back are returned.
func (s *Store) RecentAsks(ctx context.Context, limit int, unmatchedOnly bool) ([]AskEntry, error) {
	query := `SELECT id, created_at, channel, query, answer, record_id, confidence, best_score, matched FROM ask_log`
	if unmatchedOnly {
		query += ` WHERE matched = 0`
	}
	query += ` ORDER BY rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing asks: %w", err)
	}
	defer rows.Close()

	var out []AskEntry
	for rows.Next() {
		var e AskEntry
		var createdAt string
		var matched int
		if err := rows.Scan(&e.ID, &createdAt, &e.Channel, &e.Query, &e.Answer, &e.RecordID, &e.Confidence, &e.BestScore, &matched); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		e.Matched = matched != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
