package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by the Get* lookups when no row matches.
var ErrNotFound = errors.New("store: session not found")

// Row is one agent_sessions row (§4.8).
type Row struct {
	ID               int64
	SessionID        string
	LogFilePath      string
	ProjectPath      string
	AgentType        string
	DisplayName      string
	CreatedAt        time.Time
	LastActivityAt   time.Time
	CurrentWindow    string // empty means NULL / orphan
	IsPinned         bool
	LastResumeError  string
	LastKnownLogSize int64
	IsCodexExec      bool
}

// Patch is a partial update for UpdateSession; nil fields are left
// untouched, producing a dynamic SET list with only the provided columns.
type Patch struct {
	DisplayName      *string
	LastActivityAt   *time.Time
	CurrentWindow    *string // pointer-to-empty-string means "set to NULL"
	IsPinned         *bool
	LastResumeError  *string
	LastKnownLogSize *int64
	IsCodexExec      *bool
}

// Store is the session-metadata persistence layer.
type Store struct {
	db *DB
}

// New wraps an already-opened DB.
func New(db *DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertSession creates a new row and returns its assigned ID.
func (s *Store) InsertSession(ctx context.Context, row Row) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO agent_sessions
			(session_id, log_file_path, project_path, agent_type, display_name,
			 created_at, last_activity_at, current_window, is_pinned,
			 last_resume_error, last_known_log_size, is_codex_exec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.SessionID, row.LogFilePath, row.ProjectPath, row.AgentType, row.DisplayName,
		row.CreatedAt.Unix(), row.LastActivityAt.Unix(), nullIfEmpty(row.CurrentWindow), boolToInt(row.IsPinned),
		nullIfEmpty(row.LastResumeError), row.LastKnownLogSize, boolToInt(row.IsCodexExec),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}
	return res.LastInsertId()
}

// UpdateSession applies patch's non-nil fields to the row identified by id.
// A patch with no set fields is a no-op.
func (s *Store) UpdateSession(ctx context.Context, id int64, patch Patch) error {
	var sets []string
	var args []any

	if patch.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *patch.DisplayName)
	}
	if patch.LastActivityAt != nil {
		sets = append(sets, "last_activity_at = ?")
		args = append(args, patch.LastActivityAt.Unix())
	}
	if patch.CurrentWindow != nil {
		sets = append(sets, "current_window = ?")
		args = append(args, nullIfEmpty(*patch.CurrentWindow))
	}
	if patch.IsPinned != nil {
		sets = append(sets, "is_pinned = ?")
		args = append(args, boolToInt(*patch.IsPinned))
	}
	if patch.LastResumeError != nil {
		sets = append(sets, "last_resume_error = ?")
		args = append(args, nullIfEmpty(*patch.LastResumeError))
	}
	if patch.LastKnownLogSize != nil {
		sets = append(sets, "last_known_log_size = ?")
		args = append(args, *patch.LastKnownLogSize)
	}
	if patch.IsCodexExec != nil {
		sets = append(sets, "is_codex_exec = ?")
		args = append(args, boolToInt(*patch.IsCodexExec))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE agent_sessions SET %s WHERE id = ?", strings.Join(sets, ", "))
	_, err := s.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating session %d: %w", id, err)
	}
	return nil
}

// OrphanSession sets current_window to NULL, the window-level equivalent of
// saying "this session's window is gone."
func (s *Store) OrphanSession(ctx context.Context, id int64) error {
	empty := ""
	return s.UpdateSession(ctx, id, Patch{CurrentWindow: &empty})
}

// GetSessionByID looks up a row by its agent-assigned session_id.
func (s *Store) GetSessionByID(ctx context.Context, sessionID string) (Row, error) {
	return s.getOne(ctx, "session_id = ?", sessionID)
}

// GetSessionByLogPath looks up a row by its log_file_path.
func (s *Store) GetSessionByLogPath(ctx context.Context, logPath string) (Row, error) {
	return s.getOne(ctx, "log_file_path = ?", logPath)
}

// GetSessionByWindow looks up a row by its current tmux window target.
func (s *Store) GetSessionByWindow(ctx context.Context, window string) (Row, error) {
	return s.getOne(ctx, "current_window = ?", window)
}

func (s *Store) getOne(ctx context.Context, where string, arg any) (Row, error) {
	row := s.db.conn.QueryRowContext(ctx, selectColumns+" WHERE "+where, arg)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("querying session: %w", err)
	}
	return r, nil
}

// GetActiveSessions returns every row with a non-null current_window.
func (s *Store) GetActiveSessions(ctx context.Context) ([]Row, error) {
	return s.query(ctx, selectColumns+" WHERE current_window IS NOT NULL")
}

// GetInactiveSessions returns every orphan row, most recently active first.
func (s *Store) GetInactiveSessions(ctx context.Context) ([]Row, error) {
	return s.query(ctx, selectColumns+" WHERE current_window IS NULL ORDER BY last_activity_at DESC")
}

func (s *Store) query(ctx context.Context, query string) ([]Row, error) {
	rows, err := s.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT id, session_id, log_file_path, project_path, agent_type, display_name,
	       created_at, last_activity_at, current_window, is_pinned,
	       last_resume_error, last_known_log_size, is_codex_exec
	FROM agent_sessions
`

// rowScanner abstracts over *sql.Row and *sql.Rows, which share a Scan
// signature but not an interface in database/sql.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(scanner rowScanner) (Row, error) {
	var r Row
	var createdAt, lastActivityAt int64
	var currentWindow, lastResumeError sql.NullString
	var isPinned, isCodexExec int

	err := scanner.Scan(
		&r.ID, &r.SessionID, &r.LogFilePath, &r.ProjectPath, &r.AgentType, &r.DisplayName,
		&createdAt, &lastActivityAt, &currentWindow, &isPinned,
		&lastResumeError, &r.LastKnownLogSize, &isCodexExec,
	)
	if err != nil {
		return Row{}, err
	}

	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	r.LastActivityAt = time.Unix(lastActivityAt, 0).UTC()
	r.CurrentWindow = currentWindow.String
	r.LastResumeError = lastResumeError.String
	r.IsPinned = isPinned != 0
	r.IsCodexExec = isCodexExec != 0
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
