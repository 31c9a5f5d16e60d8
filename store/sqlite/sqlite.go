// Package sqlite implements store.Store using SQLite.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/botforgehq/botforge/model"
)

// ErrNotFound is returned when a user, bot, or code lookup matches
// nothing.
var ErrNotFound = errors.New("not found")

// Store persists users, bots, node graphs, and AI configs in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			username          TEXT NOT NULL UNIQUE,
			password          TEXT NOT NULL,
			email             TEXT NOT NULL UNIQUE,
			verification_code TEXT NOT NULL DEFAULT '',
			is_verified       INTEGER NOT NULL DEFAULT 0,
			role              TEXT NOT NULL DEFAULT 'user',
			created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS bots (
			token      TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS nodes (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_token TEXT NOT NULL,
			node_id   TEXT NOT NULL,
			text      TEXT NOT NULL,
			next_node TEXT NOT NULL DEFAULT '',
			options   TEXT NOT NULL DEFAULT '',
			position  INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (bot_token) REFERENCES bots(token)
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_bot_token
			ON nodes(bot_token);

		CREATE TABLE IF NOT EXISTS ai_configs (
			bot_token      TEXT PRIMARY KEY,
			provider       TEXT NOT NULL,
			api_key        TEXT NOT NULL,
			custom_ai_name TEXT NOT NULL DEFAULT '',
			custom_ai_url  TEXT NOT NULL DEFAULT '',
			updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (bot_token) REFERENCES bots(token)
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Users ---

// CreateUser inserts a new account. Duplicate usernames or emails fail
// with the database's uniqueness error.
func (s *Store) CreateUser(u *model.User) error {
	if u.Role == "" {
		u.Role = "user"
	}
	result, err := s.db.Exec(
		`INSERT INTO users (username, password, email, verification_code, is_verified, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Password, u.Email, u.VerificationCode, u.Verified, u.Role, u.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

// GetUser retrieves an account by username.
func (s *Store) GetUser(username string) (*model.User, error) {
	row := s.db.QueryRow(
		`SELECT id, username, password, email, verification_code, is_verified, role, created_at
		 FROM users WHERE username = ?`, username,
	)
	return scanUser(row)
}

// VerifyUser marks the account verified when code matches its pending
// verification code. A wrong code or already-verified account returns
// ErrNotFound.
func (s *Store) VerifyUser(username, code string) error {
	result, err := s.db.Exec(
		`UPDATE users SET is_verified = 1, verification_code = ''
		 WHERE username = ? AND is_verified = 0 AND verification_code = ? AND verification_code != ''`,
		username, code,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Authenticate returns the account matching username and password, if it
// is verified.
func (s *Store) Authenticate(username, password string) (*model.User, error) {
	row := s.db.QueryRow(
		`SELECT id, username, password, email, verification_code, is_verified, role, created_at
		 FROM users WHERE username = ? AND password = ? AND is_verified = 1`,
		username, password,
	)
	return scanUser(row)
}

// --- Bots ---

// CreateBot inserts a new bot identity.
func (s *Store) CreateBot(b *model.Bot) error {
	_, err := s.db.Exec(
		`INSERT INTO bots (token, name, created_at) VALUES (?, ?, ?)`,
		b.Token, b.Name, b.CreatedAt,
	)
	return err
}

// GetBot retrieves a bot by token.
func (s *Store) GetBot(token string) (*model.Bot, error) {
	b := &model.Bot{}
	err := s.db.QueryRow(
		`SELECT token, name, created_at FROM bots WHERE token = ?`, token,
	).Scan(&b.Token, &b.Name, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBots returns all bots ordered by creation time (newest first).
func (s *Store) ListBots() ([]*model.Bot, error) {
	rows, err := s.db.Query(`SELECT token, name, created_at FROM bots ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*model.Bot
	for rows.Next() {
		b := &model.Bot{}
		if err := rows.Scan(&b.Token, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// --- Node graphs ---

// SaveGraph replaces the bot's node graph wholesale, preserving order.
func (s *Store) SaveGraph(token string, g model.Graph) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM nodes WHERE bot_token = ?`, token); err != nil {
		return err
	}
	for i, n := range g {
		_, err := tx.Exec(
			`INSERT INTO nodes (bot_token, node_id, text, next_node, options, position)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			token, n.ID, n.Text, n.Next, strings.Join(n.Options, ","), i,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadGraph returns the bot's node graph in saved order. A bot with no
// saved nodes gets an empty graph, not an error.
func (s *Store) LoadGraph(token string) (model.Graph, error) {
	rows, err := s.db.Query(
		`SELECT node_id, text, next_node, options
		 FROM nodes WHERE bot_token = ? ORDER BY position ASC`, token,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	g := model.Graph{}
	for rows.Next() {
		var n model.Node
		var options string
		if err := rows.Scan(&n.ID, &n.Text, &n.Next, &options); err != nil {
			return nil, err
		}
		n.Options = splitOptions(options)
		g = append(g, n)
	}
	return g, rows.Err()
}

func splitOptions(joined string) []string {
	out := []string{}
	for _, opt := range strings.Split(joined, ",") {
		if opt = strings.TrimSpace(opt); opt != "" {
			out = append(out, opt)
		}
	}
	return out
}

// --- AI configs ---

// SaveAIConfig installs the bot's AI config, replacing any previous one.
func (s *Store) SaveAIConfig(token string, cfg *model.AIConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ai_configs WHERE bot_token = ?`, token); err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO ai_configs (bot_token, provider, api_key, custom_ai_name, custom_ai_url, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		token, string(cfg.Provider), cfg.APIKey, cfg.CustomName, cfg.CustomURL, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// LoadAIConfig returns the bot's AI config, or (nil, nil) when none is
// installed.
func (s *Store) LoadAIConfig(token string) (*model.AIConfig, error) {
	cfg := &model.AIConfig{}
	var provider string
	err := s.db.QueryRow(
		`SELECT provider, api_key, custom_ai_name, custom_ai_url
		 FROM ai_configs WHERE bot_token = ?`, token,
	).Scan(&provider, &cfg.APIKey, &cfg.CustomName, &cfg.CustomURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.Provider = model.Provider(provider)
	return cfg, nil
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID, &u.Username, &u.Password, &u.Email,
		&u.VerificationCode, &u.Verified, &u.Role, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
