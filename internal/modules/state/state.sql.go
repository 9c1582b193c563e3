package state

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/waqasmani/autopunch/internal/infrastructure/database"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

const (
	hasSubmittedQuery = `SELECT 1 FROM submission_records WHERE account_id = ? AND kind = ? AND period = ?`
	loadSessionQuery  = `SELECT payload FROM sessions WHERE account_id = ?`
	deleteSessionSQL  = `DELETE FROM sessions WHERE account_id = ?`
)

// SQLStore keeps state in the submission_records and sessions tables.
type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) insertRecordSQL() string {
	const cols = `submission_records (account_id, kind, period, completed_at, detail) VALUES (?, ?, ?, ?, ?)`
	switch s.db.Dialect {
	case database.DialectMySQL:
		return `INSERT IGNORE INTO ` + cols
	case database.DialectPostgres:
		return `INSERT INTO ` + cols + ` ON CONFLICT (account_id, kind, period) DO NOTHING`
	default:
		return `INSERT OR IGNORE INTO ` + cols
	}
}

func (s *SQLStore) upsertSessionSQL() string {
	const cols = `sessions (account_id, payload, updated_at) VALUES (?, ?, ?)`
	switch s.db.Dialect {
	case database.DialectMySQL:
		return `INSERT INTO ` + cols + ` ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`
	default:
		return `INSERT INTO ` + cols + ` ON CONFLICT (account_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`
	}
}

func (s *SQLStore) HasSubmitted(ctx context.Context, accountID string, kind domain.Kind, period domain.Period) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, hasSubmittedQuery, accountID, string(kind), string(period)).Scan(&one)
	if stderrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeStore, "failed to read submission record")
	}
	return true, nil
}

func (s *SQLStore) RecordSubmitted(ctx context.Context, record domain.SubmissionRecord) error {
	completedAt := record.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, s.insertRecordSQL(),
		record.AccountID, string(record.Kind), string(record.Period), completedAt.UnixMilli(), record.Detail)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStore, "failed to persist submission record")
	}
	return nil
}

func (s *SQLStore) LoadSession(ctx context.Context, accountID string) (*domain.Session, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, loadSessionQuery, accountID).Scan(&payload)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStore, "failed to read cached session")
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		// A corrupt cache entry is treated as a miss.
		return nil, nil
	}
	return &session, nil
}

func (s *SQLStore) SaveSession(ctx context.Context, accountID string, session domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode session")
	}

	if _, err := s.db.ExecContext(ctx, s.upsertSessionSQL(), accountID, string(payload), time.Now().UnixMilli()); err != nil {
		return errors.Wrap(err, errors.ErrCodeStore, "failed to cache session")
	}
	return nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx, deleteSessionSQL, accountID); err != nil {
		return errors.Wrap(err, errors.ErrCodeStore, "failed to delete cached session")
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Backend() string { return s.db.Dialect }

func (s *SQLStore) Close() error {
	return s.db.Close()
}
