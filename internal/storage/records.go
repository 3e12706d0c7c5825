package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const recordColumns = `id, question, answer, created_at, updated_at`

// ListQARecords returns every record in insertion order.
func (s *Store) ListQARecords(ctx context.Context) ([]QARecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM qa_records ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []QARecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetQARecord(ctx context.Context, id string) (QARecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM qa_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return QARecord{}, ErrNotFound
	}
	return r, err
}

func (s *Store) CountQARecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM qa_records`).Scan(&n)
	return n, err
}

// InsertQARecords appends records in order within one transaction. Either
// all of them are stored or none are.
func (s *Store) InsertQARecords(ctx context.Context, records []QARecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO qa_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Question, r.Answer, formatTime(r.CreatedAt), formatTime(r.UpdatedAt)); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// UpdateQARecord replaces the question and answer of an existing record.
func (s *Store) UpdateQARecord(ctx context.Context, r QARecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE qa_records SET question = ?, answer = ?, updated_at = ? WHERE id = ?`,
		r.Question, r.Answer, formatTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating record %s: %w", r.ID, err)
	}
	return requireOneRow(res)
}

func (s *Store) DeleteQARecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM qa_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (QARecord, error) {
	var r QARecord
	var createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.Question, &r.Answer, &createdAt, &updatedAt); err != nil {
		return QARecord{}, err
	}
	var err error
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return QARecord{}, err
	}
	if r.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return QARecord{}, err
	}
	return r, nil
}
