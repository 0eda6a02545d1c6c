package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	keyRole     = "role"
	keyUserCode = "usercode"
)

// State is the in-memory view of the current identity. HistoryFetched is
// scoped to this identity and process; it is never persisted.
type State struct {
	Role           Role
	UserCode       string
	HistoryFetched bool
}

func (s State) LoggedIn() bool {
	return s.Role != RoleNone && (s.Role == RoleUser || s.UserCode != "")
}

// Store persists the identity across restarts in a SQLite file.
type Store struct {
	dbPath string
	db     *sql.DB
	log    *zap.Logger

	mu    sync.Mutex
	state State
}

func Open(dbPath string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{dbPath: dbPath, db: db, log: log}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS history_marks (
			user_code TEXT PRIMARY KEY,
			fetched_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) load() error {
	role, err := s.get(context.Background(), keyRole)
	if err != nil {
		return err
	}
	userCode, err := s.get(context.Background(), keyUserCode)
	if err != nil {
		return err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		s.log.Warn("ignoring stored role", zap.String("role", role), zap.Error(err))
		parsed = RoleNone
	}
	s.state = State{Role: parsed, UserCode: userCode}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) IsLoggedIn() bool {
	return s.Current().LoggedIn()
}

// Login persists the identity and clears its fetch-once marker. Callers are
// expected to have run ValidateLogin.
func (s *Store) Login(ctx context.Context, userCode string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin login tx: %w", err)
	}
	defer tx.Rollback()

	upsert := `INSERT INTO kv(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`
	if _, err := tx.ExecContext(ctx, upsert, keyUserCode, userCode); err != nil {
		return fmt.Errorf("store usercode: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, keyRole, string(role)); err != nil {
		return fmt.Errorf("store role: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_marks WHERE user_code = ?`, userCode); err != nil {
		return fmt.Errorf("clear history mark: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit login: %w", err)
	}

	s.state = State{Role: role, UserCode: userCode}
	s.log.Info("logged in", zap.String("role", string(role)), zap.String("usercode", userCode))
	return nil
}

// Logout clears the persisted identity and the marker of the user that was
// persisted, which may differ from the in-memory one if another process
// logged in meanwhile.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userCode, err := s.get(ctx, keyUserCode)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin logout tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key IN (?, ?)`, keyUserCode, keyRole); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	if userCode != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM history_marks WHERE user_code = ?`, userCode); err != nil {
			return fmt.Errorf("clear history mark: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit logout: %w", err)
	}

	s.state = State{}
	s.log.Info("logged out", zap.String("usercode", userCode))
	return nil
}

func (s *Store) HistoryFetched() bool {
	return s.Current().HistoryFetched
}

// MarkHistoryFetched sets the session-scoped flag and records the fetch time.
// It reports false when the flag was already set, so callers can use it as a
// test-and-set guard.
func (s *Store) MarkHistoryFetched(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.HistoryFetched {
		return false, nil
	}
	s.state.HistoryFetched = true

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO history_marks(user_code, fetched_at) VALUES(?, ?)
		ON CONFLICT(user_code) DO UPDATE SET fetched_at=excluded.fetched_at
	`, s.state.UserCode, time.Now().Unix()); err != nil {
		return true, fmt.Errorf("record history mark: %w", err)
	}
	return true, nil
}

// LastHistoryFetch returns when history was last fetched for userCode since
// its last login.
func (s *Store) LastHistoryFetch(ctx context.Context, userCode string) (time.Time, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT fetched_at FROM history_marks WHERE user_code = ?`, userCode).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read history mark: %w", err)
	}
	return time.Unix(ts, 0), true, nil
}
