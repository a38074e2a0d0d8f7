package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
)

// Swap persistence errors
var (
	ErrSwapNotFound = errors.New("swap not found")
	ErrSwapExists   = errors.New("swap already exists")
)

const swapColumns = `uuid, time_started, request, response, messages, privacy, request_id, quote_id`

// InsertSwap stores a new swap record.
func (s *Storage) InsertSwap(rec *swap.Record) error {
	if rec.UUID == "" {
		return swap.ErrEmptyUUID
	}

	request, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	response, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	messages, err := encodeMessages(rec.Messages)
	if err != nil {
		return err
	}
	privacy, err := encodePrivacy(rec.Privacy)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	query := `
		INSERT INTO swaps (
			uuid, time_started, request, response, messages, privacy,
			request_id, quote_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		rec.UUID,
		rec.TimeStarted.UnixMilli(),
		string(request),
		string(response),
		messages,
		privacy,
		rec.RequestID,
		rec.QuoteID,
		time.Now().UnixMilli(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSwapExists
		}
		return err
	}
	return nil
}

// GetSwap retrieves a swap by uuid.
func (s *Storage) GetSwap(uuid string) (*swap.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE uuid = ?`, uuid)
	return scanSwap(row)
}

// AppendSwapMessage appends a raw daemon message to a swap's message log and
// returns the updated record. The first message carrying a request or quote
// id sets it on the record. A private status message also updates the
// stored privacy status.
func (s *Storage) AppendSwapMessage(uuid string, raw json.RawMessage) (*swap.Record, error) {
	env, err := swap.ParseHeader(raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanSwap(tx.QueryRow(`SELECT `+swapColumns+` FROM swaps WHERE uuid = ?`, uuid))
	if err != nil {
		return nil, err
	}

	rec.Messages = append(rec.Messages, raw)
	if rec.RequestID == 0 && env.RequestID != 0 {
		rec.RequestID = env.RequestID
	}
	if rec.QuoteID == 0 && env.QuoteID != 0 {
		rec.QuoteID = env.QuoteID
	}
	if env.Method == swap.MethodPrivateStatus && rec.Privacy != nil {
		msg, err := swap.ParseMessage(raw)
		if err != nil {
			return nil, err
		}
		if update, ok := msg.(swap.PrivateStatusUpdate); ok {
			rec.Privacy.Status = update.Status
		}
	}

	messages, err := encodeMessages(rec.Messages)
	if err != nil {
		return nil, err
	}
	privacy, err := encodePrivacy(rec.Privacy)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE swaps
		SET messages = ?, privacy = ?, request_id = ?, quote_id = ?, updated_at = ?
		WHERE uuid = ?
	`
	if _, err := tx.Exec(query, messages, privacy, rec.RequestID, rec.QuoteID, time.Now().UnixMilli(), uuid); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return rec, nil
}

// ListSwaps returns swaps started strictly after since, newest first. Swaps
// started in the same millisecond are ordered by uuid. A zero since returns
// all swaps; a non-positive limit means no limit.
func (s *Storage) ListSwaps(since time.Time, limit int) ([]*swap.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	query := `SELECT ` + swapColumns + ` FROM swaps`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE time_started > ?`
		args = append(args, since.UnixMilli())
	}
	query += ` ORDER BY time_started DESC, uuid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*swap.Record
	for rows.Next() {
		rec, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, rec)
	}

	return swaps, rows.Err()
}

// ListSwapUUIDs returns the uuids of all stored swaps.
func (s *Storage) ListSwapUUIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`SELECT uuid FROM swaps ORDER BY time_started DESC, uuid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, err
		}
		uuids = append(uuids, uuid)
	}

	return uuids, rows.Err()
}

// CountSwaps returns the number of stored swaps.
func (s *Storage) CountSwaps() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM swaps`).Scan(&count)
	return count, err
}

// DeleteLegacySwaps deletes swaps written by an older schema, which stored
// request amounts as strings rather than numbers. Returns the number of
// deleted swaps.
func (s *Storage) DeleteLegacySwaps() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	query := `
		DELETE FROM swaps
		WHERE json_type(request, '$.amount') = 'text'
		OR json_type(request, '$.price') = 'text'
		OR json_type(request, '$.total') = 'text'
	`

	result, err := s.db.Exec(query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Helper functions

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSwap(row scanner) (*swap.Record, error) {
	var rec swap.Record
	var timeStarted int64
	var request, response, messages string
	var privacy sql.NullString

	err := row.Scan(
		&rec.UUID,
		&timeStarted,
		&request,
		&response,
		&messages,
		&privacy,
		&rec.RequestID,
		&rec.QuoteID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSwapNotFound
		}
		return nil, err
	}

	rec.TimeStarted = time.UnixMilli(timeStarted)
	if err := json.Unmarshal([]byte(request), &rec.Request); err != nil {
		return nil, fmt.Errorf("failed to decode request of swap %s: %w", rec.UUID, err)
	}
	if err := json.Unmarshal([]byte(response), &rec.Response); err != nil {
		return nil, fmt.Errorf("failed to decode response of swap %s: %w", rec.UUID, err)
	}
	if err := json.Unmarshal([]byte(messages), &rec.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages of swap %s: %w", rec.UUID, err)
	}
	if privacy.Valid {
		rec.Privacy = &swap.Privacy{}
		if err := json.Unmarshal([]byte(privacy.String), rec.Privacy); err != nil {
			return nil, fmt.Errorf("failed to decode privacy of swap %s: %w", rec.UUID, err)
		}
	}

	return &rec, nil
}

func encodeMessages(messages []json.RawMessage) (string, error) {
	if messages == nil {
		messages = []json.RawMessage{}
	}
	b, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("failed to encode messages: %w", err)
	}
	return string(b), nil
}

func encodePrivacy(p *swap.Privacy) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode privacy: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
