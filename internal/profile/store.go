package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rlink/rlink/internal/crypto"
)

const defaultBusyTimeout = 5 * time.Second

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL UNIQUE,
		host           TEXT NOT NULL,
		port           INTEGER NOT NULL DEFAULT 22,
		username       TEXT NOT NULL,
		auth_method    TEXT NOT NULL DEFAULT 'password',
		password       TEXT NOT NULL DEFAULT '',
		private_key    TEXT NOT NULL DEFAULT '',
		passphrase     TEXT NOT NULL DEFAULT '',
		group_name     TEXT NOT NULL DEFAULT '',
		tags           TEXT,
		created_at     TEXT NOT NULL,
		last_connected TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_profiles_group ON profiles(group_name, name)`,
}

const selectColumns = `id, name, host, port, username, auth_method, password, private_key, passphrase, group_name, tags, created_at, last_connected`

// Store persists profiles.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates (if needed) and opens the profile database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("profile: database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("profile: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("profile: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("profile: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("profile: begin schema transaction: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("profile: apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("profile: commit schema: %w", err)
	}
	return nil
}

// Add stores a new profile and returns it with ID and CreatedAt set.
func (s *Store) Add(ctx context.Context, p Profile) (Profile, error) {
	if err := p.normalize(); err != nil {
		return Profile{}, err
	}
	p.ID = uuid.NewString()
	p.CreatedAt = s.now().UTC().Truncate(time.Second)

	if err := s.insert(ctx, p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *Store) insert(ctx context.Context, p Profile) error {
	args, err := s.columnArgs(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO profiles (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{p.ID}, args...)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrNameTaken, p.Name)
		}
		return fmt.Errorf("profile: insert %q: %w", p.Name, err)
	}
	return nil
}

// Update overwrites the stored profile with the same ID. CreatedAt and
// LastConnected are kept from the stored row.
func (s *Store) Update(ctx context.Context, p Profile) (Profile, error) {
	if p.ID == "" {
		return Profile{}, fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if err := p.normalize(); err != nil {
		return Profile{}, err
	}
	current, err := s.getBy(ctx, "id", p.ID)
	if err != nil {
		return Profile{}, err
	}
	p.CreatedAt = current.CreatedAt
	p.LastConnected = current.LastConnected

	sealed, err := s.sealSecrets(p)
	if err != nil {
		return Profile{}, err
	}
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return Profile{}, err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE profiles SET
		name = ?, host = ?, port = ?, username = ?, auth_method = ?,
		password = ?, private_key = ?, passphrase = ?, group_name = ?, tags = ?
		WHERE id = ?`,
		p.Name, p.Host, p.Port, p.Username, string(p.AuthMethod),
		sealed[0], sealed[1], sealed[2], p.Group, tags, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Profile{}, fmt.Errorf("%w: %q", ErrNameTaken, p.Name)
		}
		return Profile{}, fmt.Errorf("profile: update %q: %w", p.ID, err)
	}
	return p, nil
}

// Get returns the profile whose ID or name equals ref. IDs win over names.
func (s *Store) Get(ctx context.Context, ref string) (Profile, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Profile{}, fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	p, err := s.getBy(ctx, "id", ref)
	if err == nil || !IsNotFound(err) {
		return p, err
	}
	return s.getBy(ctx, "name", ref)
}

func (s *Store) getBy(ctx context.Context, column, value string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM profiles WHERE `+column+` = ?`, value)
	p, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, value)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile: get %q: %w", value, err)
	}
	return p, nil
}

// List returns all profiles ordered by group (ungrouped last), then name.
func (s *Store) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM profiles
		ORDER BY group_name = '', group_name COLLATE NOCASE, name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("profile: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: iterate: %w", err)
	}
	return out, nil
}

// Copy duplicates the profile identified by ref under a new ID. The copy is
// named "<name> (copy)", with a numeric suffix if that name is taken.
func (s *Store) Copy(ctx context.Context, ref string) (Profile, error) {
	src, err := s.Get(ctx, ref)
	if err != nil {
		return Profile{}, err
	}

	dup := src
	dup.ID = uuid.NewString()
	dup.CreatedAt = s.now().UTC().Truncate(time.Second)
	dup.LastConnected = nil
	dup.Tags = append([]string(nil), src.Tags...)

	base := src.Name + copySuffix
	for i := 1; ; i++ {
		dup.Name = base
		if i > 1 {
			dup.Name = fmt.Sprintf("%s %d", base, i)
		}
		err := s.insert(ctx, dup)
		if err == nil {
			return dup, nil
		}
		if !errors.Is(err, ErrNameTaken) || i >= 100 {
			return Profile{}, err
		}
	}
}

// Delete removes the profile identified by ref.
func (s *Store) Delete(ctx context.Context, ref string) error {
	p, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("profile: delete %q: %w", p.ID, err)
	}
	return nil
}

// TouchConnected records a successful connection time.
func (s *Store) TouchConnected(ctx context.Context, id string) error {
	at := s.now().UTC().Truncate(time.Second).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET last_connected = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("profile: touch %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// columnArgs returns the insert arguments following id.
func (s *Store) columnArgs(p Profile) ([]any, error) {
	sealed, err := s.sealSecrets(p)
	if err != nil {
		return nil, err
	}
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return nil, err
	}
	var last any
	if p.LastConnected != nil {
		last = p.LastConnected.UTC().Format(time.RFC3339)
	}
	return []any{
		p.Name, p.Host, p.Port, p.Username, string(p.AuthMethod),
		sealed[0], sealed[1], sealed[2], p.Group, tags,
		p.CreatedAt.UTC().Format(time.RFC3339), last,
	}, nil
}

func (s *Store) sealSecrets(p Profile) ([3]string, error) {
	var out [3]string
	for i, v := range [3]string{p.Password, p.PrivateKey, p.Passphrase} {
		sealed, err := seal(v)
		if err != nil {
			return out, err
		}
		out[i] = sealed
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row rowScanner) (Profile, error) {
	var (
		p                    Profile
		method, createdAt    string
		password, privateKey string
		passphrase           string
		tags, lastConnected  sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Host, &p.Port, &p.Username, &method,
		&password, &privateKey, &passphrase, &p.Group, &tags, &createdAt, &lastConnected); err != nil {
		return Profile{}, err
	}
	p.AuthMethod = AuthMethod(method)

	var err error
	if p.Password, err = open(password); err != nil {
		return Profile{}, fmt.Errorf("password: %w", err)
	}
	if p.PrivateKey, err = open(privateKey); err != nil {
		return Profile{}, fmt.Errorf("private key: %w", err)
	}
	if p.Passphrase, err = open(passphrase); err != nil {
		return Profile{}, fmt.Errorf("passphrase: %w", err)
	}
	if p.Tags, err = decodeTags(tags); err != nil {
		return Profile{}, fmt.Errorf("tags: %w", err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Profile{}, fmt.Errorf("created_at: %w", err)
	}
	if lastConnected.Valid && lastConnected.String != "" {
		t, err := time.Parse(time.RFC3339, lastConnected.String)
		if err != nil {
			return Profile{}, fmt.Errorf("last_connected: %w", err)
		}
		p.LastConnected = &t
	}
	return p, nil
}

func seal(plaintext string) (string, error) {
	sealed, err := crypto.Seal(plaintext)
	if err != nil {
		return "", fmt.Errorf("profile: encrypt secret: %w", err)
	}
	return sealed, nil
}

func open(stored string) (string, error) {
	plaintext, err := crypto.Open(stored)
	if err != nil {
		return "", fmt.Errorf("profile: decrypt secret: %w", err)
	}
	return plaintext, nil
}

func encodeTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeTags(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
