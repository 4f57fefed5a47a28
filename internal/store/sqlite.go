package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore provides SQLite-based storage for token records, pending
// OAuth states and the token audit trail, with WAL mode enabled.
type SQLiteStore struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with WAL mode enabled
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}
	// A single writer connection keeps supersede and replace transactions
	// serialized without relying on busy retries.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.NewLogger().With("component", "store"),
		now:    time.Now,
	}, nil
}

// SetLogger replaces the store logger.
func (s *SQLiteStore) SetLogger(l *logging.Logger) {
	if l != nil {
		s.logger = l
	}
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS oauth_tokens (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					realm_id TEXT NOT NULL,
					access_token TEXT NOT NULL,
					refresh_token TEXT NOT NULL DEFAULT '',
					token_type TEXT NOT NULL DEFAULT 'bearer',
					issued_at DATETIME NOT NULL,
					expires_at DATETIME NOT NULL,
					refresh_expires_at DATETIME,
					active INTEGER NOT NULL DEFAULT 1,
					deactivated_at DATETIME,
					deactivation_reason TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_oauth_tokens_active_realm
					ON oauth_tokens(realm_id) WHERE active = 1;
				CREATE INDEX IF NOT EXISTS idx_oauth_tokens_user ON oauth_tokens(user_id, active);

				CREATE TABLE IF NOT EXISTS oauth_states (
					value TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					issued_at DATETIME NOT NULL,
					expires_at_unix INTEGER NOT NULL
				);
			`,
		},
		{
			version: 2,
			up: `
				CREATE TABLE IF NOT EXISTS token_events (
					id TEXT PRIMARY KEY,
					timestamp DATETIME NOT NULL,
					event_type TEXT NOT NULL,
					severity TEXT NOT NULL DEFAULT 'info',
					user_id TEXT NOT NULL DEFAULT '',
					realm_id TEXT NOT NULL DEFAULT '',
					action TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT '',
					details TEXT,
					error_message TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_token_events_user ON token_events(user_id, timestamp);
				CREATE INDEX IF NOT EXISTS idx_oauth_states_expiry ON oauth_states(expires_at_unix);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Token operations

const tokenColumns = `id, user_id, realm_id, access_token, refresh_token, token_type, issued_at, expires_at,
	refresh_expires_at, active, deactivated_at, deactivation_reason, created_at, updated_at`

func (s *SQLiteStore) SaveToken(ctx context.Context, rec *models.OAuthTokenRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "begin save token", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET active = 0, deactivated_at = ?, deactivation_reason = ?, updated_at = ?
		WHERE realm_id = ? AND active = 1
	`, now, string(models.ReasonSuperseded), now, rec.RealmID)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "supersede token", Err: err}
	}
	superseded, _ := res.RowsAffected()

	if err := insertToken(ctx, tx, insertable(rec, now)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "commit save token", Err: err}
	}
	return int(superseded), nil
}

func (s *SQLiteStore) ReplaceToken(ctx context.Context, oldID string, next *models.OAuthTokenRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin replace token", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET active = 0, deactivated_at = ?, deactivation_reason = ?, updated_at = ?
		WHERE id = ? AND active = 1
	`, now, string(models.ReasonRefreshed), now, oldID)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "deactivate refreshed token", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM oauth_tokens WHERE id = ?", oldID).Scan(&exists)
		if err != nil {
			return &errors.ErrDatabaseQuery{Operation: "lookup refreshed token", Err: err}
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrTokenNotActive
	}

	if err := insertToken(ctx, tx, insertable(next, now)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit replace token", Err: err}
	}
	return nil
}

func insertToken(ctx context.Context, tx *sql.Tx, rec *models.OAuthTokenRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO oauth_tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.RealmID, rec.AccessToken, rec.RefreshToken, rec.TokenType,
		rec.IssuedAt.UTC(), rec.ExpiresAt.UTC(), nullTime(rec.RefreshExpiresAt), rec.Active,
		nullTime(rec.DeactivatedAt), string(rec.DeactivationReason), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "insert token", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetActiveToken(ctx context.Context, userID, realmID string) (*models.OAuthTokenRecord, error) {
	query := `SELECT ` + tokenColumns + ` FROM oauth_tokens WHERE user_id = ? AND active = 1`
	args := []interface{}{userID}
	if realmID != "" {
		query += ` AND realm_id = ?`
		args = append(args, realmID)
	}
	query += ` ORDER BY issued_at DESC LIMIT 1`

	rec, err := scanToken(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get active token", Err: err}
	}
	return rec, nil
}

func (s *SQLiteStore) GetToken(ctx context.Context, id string) (*models.OAuthTokenRecord, error) {
	rec, err := scanToken(s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM oauth_tokens WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get token", Err: err}
	}
	return rec, nil
}

func (s *SQLiteStore) ListTokens(ctx context.Context, userID string) ([]*models.OAuthTokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM oauth_tokens WHERE user_id = ? ORDER BY issued_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list tokens", Err: err}
	}
	defer rows.Close()

	out := make([]*models.OAuthTokenRecord, 0)
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan token", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list tokens", Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) DeactivateTokens(ctx context.Context, userID, realmID string, reason models.DeactivationReason) (int, error) {
	now := s.now().UTC()
	query := `UPDATE oauth_tokens SET active = 0, deactivated_at = ?, deactivation_reason = ?, updated_at = ?
		WHERE user_id = ? AND active = 1`
	args := []interface{}{now, string(reason), now, userID}
	if realmID != "" {
		query += ` AND realm_id = ?`
		args = append(args, realmID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "deactivate tokens", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) PurgeTokens(ctx context.Context, userID, realmID string) (int, error) {
	query := `DELETE FROM oauth_tokens WHERE user_id = ?`
	args := []interface{}{userID}
	if realmID != "" {
		query += ` AND realm_id = ?`
		args = append(args, realmID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "purge tokens", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*models.OAuthTokenRecord, error) {
	var (
		rec           models.OAuthTokenRecord
		refreshExp    sql.NullTime
		deactivatedAt sql.NullTime
		reason        string
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.RealmID, &rec.AccessToken, &rec.RefreshToken, &rec.TokenType,
		&rec.IssuedAt, &rec.ExpiresAt, &refreshExp, &rec.Active, &deactivatedAt, &reason,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if refreshExp.Valid {
		t := refreshExp.Time
		rec.RefreshExpiresAt = &t
	}
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		rec.DeactivatedAt = &t
	}
	rec.DeactivationReason = models.DeactivationReason(reason)
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// State operations

func (s *SQLiteStore) SaveState(ctx context.Context, state *models.OAuthState) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM oauth_states WHERE expires_at_unix <= ?", s.now().Unix()); err != nil {
		s.logger.Warn("failed to prune expired oauth states", "error", err.Error())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (value, user_id, issued_at, expires_at_unix)
		VALUES (?, ?, ?, ?)
	`, state.Value, state.UserID, state.IssuedAt.UTC(), state.ExpiresAt.Unix())
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save oauth state", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ConsumeState(ctx context.Context, value string) (*models.OAuthState, error) {
	var (
		st         models.OAuthState
		expiresUnx int64
	)
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM oauth_states WHERE value = ?
		RETURNING value, user_id, issued_at, expires_at_unix
	`, value).Scan(&st.Value, &st.UserID, &st.IssuedAt, &expiresUnx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "consume oauth state", Err: err}
	}
	st.ExpiresAt = time.Unix(expiresUnx, 0).UTC()
	return &st, nil
}

// Audit operations

func (s *SQLiteStore) RecordAudit(ctx context.Context, event *logging.AuditEvent) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_events (id, timestamp, event_type, severity, user_id, realm_id, action, status, details, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Timestamp.UTC(), string(event.EventType), string(event.Severity), event.UserID,
		event.RealmID, event.Action, string(event.Status), string(details), event.ErrorMessage)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "record audit event", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, userID string, limit int) ([]*logging.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, timestamp, event_type, severity, user_id, realm_id, action, status, details, error_message
		FROM token_events`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list audit events", Err: err}
	}
	defer rows.Close()

	out := make([]*logging.AuditEvent, 0)
	for rows.Next() {
		var (
			ev                                   logging.AuditEvent
			eventType, severity, status, details string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &eventType, &severity, &ev.UserID, &ev.RealmID,
			&ev.Action, &status, &details, &ev.ErrorMessage); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan audit event", Err: err}
		}
		ev.EventType = logging.AuditEventType(eventType)
		ev.Severity = logging.AuditSeverity(severity)
		ev.Status = logging.AuditStatus(status)
		if details != "" {
			if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
				s.logger.Warn("failed to decode audit details", "audit_id", ev.ID, "error", err.Error())
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
