package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/appportal/hubauth/security"
	"github.com/appportal/hubauth/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
    client_id     TEXT PRIMARY KEY,
    id            TEXT NOT NULL,
    secret_hash   TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    redirect_uris TEXT NOT NULL DEFAULT '[]',
    scopes        TEXT NOT NULL DEFAULT '[]',
    is_public     INTEGER NOT NULL DEFAULT 0,
    active        INTEGER NOT NULL DEFAULT 1,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id                  TEXT PRIMARY KEY,
    external_subject_id TEXT NOT NULL UNIQUE,
    email               TEXT NOT NULL DEFAULT '',
    display_name        TEXT NOT NULL DEFAULT '',
    department          TEXT NOT NULL DEFAULT '',
    job_title           TEXT NOT NULL DEFAULT '',
    upstream_groups     TEXT NOT NULL DEFAULT '[]',
    active              INTEGER NOT NULL DEFAULT 1,
    admin               INTEGER NOT NULL DEFAULT 0,
    last_login_at       INTEGER NOT NULL DEFAULT 0,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    user_id  TEXT NOT NULL,
    PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS grants (
    id           TEXT PRIMARY KEY,
    client_id    TEXT NOT NULL,
    subject_kind TEXT NOT NULL,
    subject_id   TEXT NOT NULL,
    granted_by   TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    UNIQUE (client_id, subject_kind, subject_id)
);

CREATE TABLE IF NOT EXISTS auth_codes (
    code         TEXT PRIMARY KEY,
    client_id    TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    redirect_uri TEXT NOT NULL DEFAULT '',
    scope        TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    expires_at   INTEGER NOT NULL,
    consumed_at  INTEGER
);

CREATE TABLE IF NOT EXISTS token_pairs (
    id                 TEXT PRIMARY KEY,
    access_token       TEXT NOT NULL UNIQUE,
    refresh_token      TEXT NOT NULL UNIQUE,
    client_id          TEXT NOT NULL,
    user_id            TEXT NOT NULL,
    scope              TEXT NOT NULL DEFAULT '',
    access_expires_at  INTEGER NOT NULL,
    refresh_expires_at INTEGER NOT NULL,
    created_at         INTEGER NOT NULL,
    revoked_at         INTEGER
);

CREATE INDEX IF NOT EXISTS idx_token_pairs_user_client ON token_pairs(user_id, client_id);
CREATE INDEX IF NOT EXISTS idx_grants_client ON grants(client_id);
`

// Store is a SQLite-backed implementation of all storage interfaces.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) a SQLite store at the given path and applies the
// schema. The DSN enables WAL mode, foreign keys, and a busy timeout so
// concurrent writers queue instead of failing.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	// _txlock=immediate makes read-then-write transactions (token rotation)
	// take the write lock up front, so concurrent writers queue on the busy
	// timeout instead of failing mid-transaction.
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, logger: slog.Default()}, nil
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// DB exposes the underlying handle for the embedding application's own
// queries (reporting, backups).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func encodeStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal string list: %w", err)
	}
	return string(encoded), nil
}

func decodeStrings(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(value), &values); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w", err)
	}
	return values, nil
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient creates or updates a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	uris, err := encodeStrings(client.RedirectURIs)
	if err != nil {
		return err
	}
	scopes, err := encodeStrings(client.Scopes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO clients (client_id, id, secret_hash, name, description, redirect_uris, scopes, is_public, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(client_id) DO UPDATE SET
    secret_hash = excluded.secret_hash,
    name = excluded.name,
    description = excluded.description,
    redirect_uris = excluded.redirect_uris,
    scopes = excluded.scopes,
    is_public = excluded.is_public,
    active = excluded.active,
    updated_at = excluded.updated_at`,
		client.ClientID, client.ID, client.SecretHash, client.Name, client.Description,
		uris, scopes, boolToInt(client.IsPublic), boolToInt(client.Active),
		toMillis(client.CreatedAt), toMillis(client.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

func (s *Store) scanClient(row interface{ Scan(...any) error }) (*storage.Client, error) {
	var (
		c                  storage.Client
		uris, scopes       string
		isPublic, active   int
		createdAt, updated int64
	)
	if err := row.Scan(&c.ClientID, &c.ID, &c.SecretHash, &c.Name, &c.Description,
		&uris, &scopes, &isPublic, &active, &createdAt, &updated); err != nil {
		return nil, err
	}

	var err error
	if c.RedirectURIs, err = decodeStrings(uris); err != nil {
		return nil, err
	}
	if c.Scopes, err = decodeStrings(scopes); err != nil {
		return nil, err
	}
	c.IsPublic = isPublic != 0
	c.Active = active != 0
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

const clientColumns = "client_id, id, secret_hash, name, description, redirect_uris, scopes, is_public, active, created_at, updated_at"

// GetClient retrieves a client by its public client_id
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+clientColumns+" FROM clients WHERE client_id = ?", clientID)
	client, err := s.scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison always runs, against a dummy hash when the client is
// unknown or inactive, so response timing does not reveal which case applied.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	if err == nil && client.Active && client.SecretHash != "" {
		hashToCompare = client.SecretHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil {
		return storage.ErrInvalidClientSecret
	}
	if !client.Active || bcryptErr != nil {
		return storage.ErrInvalidClientSecret
	}
	return nil
}

// DeleteClient removes a client and cascades its grants, codes, and token pairs
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete client: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM clients WHERE client_id = ?", clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	for _, stmt := range []string{
		"DELETE FROM grants WHERE client_id = ?",
		"DELETE FROM auth_codes WHERE client_id = ?",
		"DELETE FROM token_pairs WHERE client_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, clientID); err != nil {
			return fmt.Errorf("cascade delete client: %w", err)
		}
	}

	return tx.Commit()
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients ORDER BY client_id")
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []*storage.Client
	for rows.Next() {
		client, err := s.scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("list clients: %w", err)
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

// ============================================================
// UserStore
// ============================================================

const userColumns = "id, external_subject_id, email, display_name, department, job_title, upstream_groups, active, admin, last_login_at, created_at, updated_at"

// SaveUser creates or updates a user record
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" || user.ExternalSubjectID == "" {
		return fmt.Errorf("invalid user")
	}

	groups, err := encodeStrings(user.UpstreamGroups)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO users (id, external_subject_id, email, display_name, department, job_title, upstream_groups, active, admin, last_login_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    email = excluded.email,
    display_name = excluded.display_name,
    department = excluded.department,
    job_title = excluded.job_title,
    upstream_groups = excluded.upstream_groups,
    active = excluded.active,
    admin = excluded.admin,
    last_login_at = excluded.last_login_at,
    updated_at = excluded.updated_at`,
		user.ID, user.ExternalSubjectID, user.Email, user.DisplayName, user.Department,
		user.JobTitle, groups, boolToInt(user.Active), boolToInt(user.Admin),
		toMillis(user.LastLoginAt), toMillis(user.CreatedAt), toMillis(user.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *Store) scanUser(row interface{ Scan(...any) error }) (*storage.User, error) {
	var (
		u                              storage.User
		groups                         string
		active, admin                  int
		lastLogin, createdAt, updated int64
	)
	if err := row.Scan(&u.ID, &u.ExternalSubjectID, &u.Email, &u.DisplayName, &u.Department,
		&u.JobTitle, &groups, &active, &admin, &lastLogin, &createdAt, &updated); err != nil {
		return nil, err
	}

	var err error
	if u.UpstreamGroups, err = decodeStrings(groups); err != nil {
		return nil, err
	}
	u.Active = active != 0
	u.Admin = admin != 0
	u.LastLoginAt = fromMillis(lastLogin)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

// GetUser retrieves a user by internal ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID)
	user, err := s.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUserByExternalSubject retrieves a user by the upstream subject identifier
func (s *Store) GetUserByExternalSubject(ctx context.Context, externalSubjectID string) (*storage.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE external_subject_id = ?", externalSubjectID)
	user, err := s.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by subject: %w", err)
	}
	return user, nil
}

// ListUsers lists all users
func (s *Store) ListUsers(ctx context.Context) ([]*storage.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*storage.User
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ============================================================
// GroupStore
// ============================================================

// SaveGroup creates or updates a group
func (s *Store) SaveGroup(ctx context.Context, group *storage.Group) error {
	if group == nil || group.ID == "" || group.Name == "" {
		return fmt.Errorf("invalid group")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO groups (id, name, description, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    updated_at = excluded.updated_at`,
		group.ID, group.Name, group.Description, toMillis(group.CreatedAt), toMillis(group.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID
func (s *Store) GetGroup(ctx context.Context, groupID string) (*storage.Group, error) {
	var (
		g                  storage.Group
		createdAt, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM groups WHERE id = ?", groupID).
		Scan(&g.ID, &g.Name, &g.Description, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrGroupNotFound, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	g.CreatedAt = fromMillis(createdAt)
	g.UpdatedAt = fromMillis(updated)
	return &g, nil
}

// DeleteGroup removes a group, its memberships, and its grants
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrGroupNotFound, groupID)
	}

	// Memberships cascade via the foreign key; grants referencing the group do
	// not, so remove them explicitly.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM grants WHERE subject_kind = ? AND subject_id = ?",
		string(storage.SubjectKindGroup), groupID); err != nil {
		return fmt.Errorf("cascade delete group grants: %w", err)
	}

	return tx.Commit()
}

// ListGroups lists all groups
func (s *Store) ListGroups(ctx context.Context) ([]*storage.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM groups ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*storage.Group
	for rows.Next() {
		var (
			g                  storage.Group
			createdAt, updated int64
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}
		g.CreatedAt = fromMillis(createdAt)
		g.UpdatedAt = fromMillis(updated)
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// AddGroupMember adds a user to a group (idempotent)
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)", groupID, userID)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember removes a user from a group (idempotent)
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	return nil
}

// GetGroupMembers returns the user IDs belonging to a group
func (s *Store) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id", groupID)
	if err != nil {
		return nil, fmt.Errorf("get group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("get group members: %w", err)
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

// GetUserGroupIDs returns the IDs of the groups a user belongs to
func (s *Store) GetUserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT group_id FROM group_members WHERE user_id = ? ORDER BY group_id", userID)
	if err != nil {
		return nil, fmt.Errorf("get user groups: %w", err)
	}
	defer rows.Close()

	var groupIDs []string
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return nil, fmt.Errorf("get user groups: %w", err)
		}
		groupIDs = append(groupIDs, groupID)
	}
	return groupIDs, rows.Err()
}

// ============================================================
// GrantStore
// ============================================================

// SaveGrant records a new access grant
func (s *Store) SaveGrant(ctx context.Context, grant *storage.Grant) error {
	if grant == nil || grant.ID == "" || grant.ClientID == "" || !grant.Subject.Valid() {
		return fmt.Errorf("invalid grant")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO grants (id, client_id, subject_kind, subject_id, granted_by, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		grant.ID, grant.ClientID, string(grant.Subject.Kind), grant.Subject.ID,
		grant.GrantedBy, toMillis(grant.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateGrant
		}
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

// GetGrant retrieves a grant by ID
func (s *Store) GetGrant(ctx context.Context, grantID string) (*storage.Grant, error) {
	var (
		g           storage.Grant
		kind, subID string
		createdAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, client_id, subject_kind, subject_id, granted_by, created_at FROM grants WHERE id = ?", grantID).
		Scan(&g.ID, &g.ClientID, &kind, &subID, &g.GrantedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrGrantNotFound, grantID)
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	g.Subject = storage.GrantSubject{Kind: storage.SubjectKind(kind), ID: subID}
	g.CreatedAt = fromMillis(createdAt)
	return &g, nil
}

// DeleteGrant removes a grant
func (s *Store) DeleteGrant(ctx context.Context, grantID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM grants WHERE id = ?", grantID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrGrantNotFound, grantID)
	}
	return nil
}

// ListGrantsForClient returns all grants attached to a client
func (s *Store) ListGrantsForClient(ctx context.Context, clientID string) ([]*storage.Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, client_id, subject_kind, subject_id, granted_by, created_at FROM grants WHERE client_id = ?", clientID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []*storage.Grant
	for rows.Next() {
		var (
			g           storage.Grant
			kind, subID string
			createdAt   int64
		)
		if err := rows.Scan(&g.ID, &g.ClientID, &kind, &subID, &g.GrantedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("list grants: %w", err)
		}
		g.Subject = storage.GrantSubject{Kind: storage.SubjectKind(kind), ID: subID}
		g.CreatedAt = fromMillis(createdAt)
		grants = append(grants, &g)
	}
	return grants, rows.Err()
}

// ============================================================
// CodeStore
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO auth_codes (code, client_id, user_id, redirect_uri, scope, created_at, expires_at, consumed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Scope,
		toMillis(code.CreatedAt), toMillis(code.ExpiresAt), toNullMillis(code.ConsumedAt))
	if err != nil {
		return fmt.Errorf("save authorization code: %w", err)
	}
	return nil
}

func (s *Store) scanCode(row interface{ Scan(...any) error }) (*storage.AuthorizationCode, error) {
	var (
		c                  storage.AuthorizationCode
		createdAt, expires int64
		consumed           sql.NullInt64
	)
	if err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope,
		&createdAt, &expires, &consumed); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expires)
	c.ConsumedAt = fromNullMillis(consumed)
	return &c, nil
}

const codeColumns = "code, client_id, user_id, redirect_uri, scope, created_at, expires_at, consumed_at"

// GetAuthorizationCode retrieves an authorization code without consuming it.
// Consumed codes are still returned so reuse handling can attribute them.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+codeColumns+" FROM auth_codes WHERE code = ?", code)
	authCode, err := s.scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get authorization code: %w", err)
	}
	return authCode, nil
}

// ConsumeAuthorizationCode atomically checks that a code is live and marks it
// consumed. The conditional UPDATE is the compare-and-set: among concurrent
// redemptions exactly one affects a row, the rest observe ErrCodeConsumed.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	now := time.Now()

	res, err := s.db.ExecContext(ctx,
		"UPDATE auth_codes SET consumed_at = ? WHERE code = ? AND consumed_at IS NULL",
		now.UTC().UnixMilli(), code)
	if err != nil {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}
	affected, _ := res.RowsAffected()

	authCode, getErr := s.GetAuthorizationCode(ctx, code)
	if getErr != nil {
		return nil, getErr
	}

	if affected == 0 {
		return nil, storage.ErrCodeConsumed
	}

	// Lazy expiry with clock skew grace period. The code is already marked
	// consumed, which is the safe direction: an expired code must never win a
	// later race.
	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}

	s.logger.Debug("Consumed authorization code")
	return authCode, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM auth_codes WHERE code = ?", code); err != nil {
		return fmt.Errorf("delete authorization code: %w", err)
	}
	return nil
}

// ============================================================
// TokenStore
// ============================================================

const pairColumns = "id, access_token, refresh_token, client_id, user_id, scope, access_expires_at, refresh_expires_at, created_at, revoked_at"

// SaveTokenPair persists a newly issued token pair
func (s *Store) SaveTokenPair(ctx context.Context, pair *storage.TokenPair) error {
	if pair == nil || pair.ID == "" || pair.AccessToken == "" || pair.RefreshToken == "" {
		return fmt.Errorf("invalid token pair")
	}
	return s.insertPair(ctx, s.db, pair)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertPair(ctx context.Context, db execer, pair *storage.TokenPair) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO token_pairs (id, access_token, refresh_token, client_id, user_id, scope, access_expires_at, refresh_expires_at, created_at, revoked_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pair.ID, pair.AccessToken, pair.RefreshToken, pair.ClientID, pair.UserID, pair.Scope,
		toMillis(pair.AccessExpiresAt), toMillis(pair.RefreshExpiresAt),
		toMillis(pair.CreatedAt), toNullMillis(pair.RevokedAt))
	if err != nil {
		return fmt.Errorf("save token pair: %w", err)
	}
	return nil
}

func (s *Store) scanPair(row interface{ Scan(...any) error }) (*storage.TokenPair, error) {
	var (
		p                           storage.TokenPair
		accessExp, refreshExp, created int64
		revoked                     sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.AccessToken, &p.RefreshToken, &p.ClientID, &p.UserID, &p.Scope,
		&accessExp, &refreshExp, &created, &revoked); err != nil {
		return nil, err
	}
	p.AccessExpiresAt = fromMillis(accessExp)
	p.RefreshExpiresAt = fromMillis(refreshExp)
	p.CreatedAt = fromMillis(created)
	p.RevokedAt = fromNullMillis(revoked)
	return &p, nil
}

// GetTokenPairByAccess retrieves the pair holding the given access token.
// Revoked pairs return ErrTokenRevoked so revocation wins over a valid
// signature; expired pairs return ErrTokenExpired.
func (s *Store) GetTokenPairByAccess(ctx context.Context, accessToken string) (*storage.TokenPair, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+pairColumns+" FROM token_pairs WHERE access_token = ?", accessToken)
	pair, err := s.scanPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token pair: %w", err)
	}

	if pair.RevokedAt != nil {
		return nil, storage.ErrTokenRevoked
	}
	if security.IsTokenExpired(pair.AccessExpiresAt) {
		return nil, storage.ErrTokenExpired
	}
	return pair, nil
}

// GetTokenPairByRefresh retrieves the pair holding the given refresh token.
// A revoked pair is returned together with ErrTokenRevoked so the caller can
// attribute the replay.
func (s *Store) GetTokenPairByRefresh(ctx context.Context, refreshToken string) (*storage.TokenPair, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+pairColumns+" FROM token_pairs WHERE refresh_token = ?", refreshToken)
	pair, err := s.scanPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token pair: %w", err)
	}

	if pair.RevokedAt != nil {
		return pair, storage.ErrTokenRevoked
	}
	if security.IsTokenExpired(pair.RefreshExpiresAt) {
		return nil, storage.ErrTokenExpired
	}
	return pair, nil
}

// RotateTokenPair atomically revokes the live pair identified by refreshToken
// and inserts newPair in its place. The conditional UPDATE inside the
// transaction is the compare-and-set: exactly one concurrent rotation
// succeeds, the rest observe ErrTokenRevoked.
func (s *Store) RotateTokenPair(ctx context.Context, refreshToken, clientID string, newPair *storage.TokenPair) (*storage.TokenPair, error) {
	if newPair == nil || newPair.ID == "" {
		return nil, fmt.Errorf("invalid replacement token pair")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT "+pairColumns+" FROM token_pairs WHERE refresh_token = ?", refreshToken)
	oldPair, err := s.scanPair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("rotate token pair: %w", err)
	}

	if oldPair.RevokedAt != nil {
		return nil, storage.ErrTokenRevoked
	}
	if oldPair.ClientID != clientID {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrTokenNotFound)
	}
	if security.IsTokenExpired(oldPair.RefreshExpiresAt) {
		return nil, storage.ErrTokenExpired
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		"UPDATE token_pairs SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		now.UTC().UnixMilli(), oldPair.ID)
	if err != nil {
		return nil, fmt.Errorf("rotate token pair: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, storage.ErrTokenRevoked
	}

	if err := s.insertPair(ctx, tx, newPair); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}

	revokedAt := now.UTC()
	oldPair.RevokedAt = &revokedAt
	s.logger.Debug("Rotated token pair", "old_pair_id", oldPair.ID, "new_pair_id", newPair.ID)
	return oldPair, nil
}

// RevokeTokenPair marks the pair with the given ID as revoked (idempotent)
func (s *Store) RevokeTokenPair(ctx context.Context, pairID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE token_pairs SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		time.Now().UTC().UnixMilli(), pairID)
	if err != nil {
		return fmt.Errorf("revoke token pair: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Idempotent for already-revoked pairs; unknown pairs are an error.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM token_pairs WHERE id = ?", pairID).Scan(&exists); err != nil {
			return storage.ErrTokenNotFound
		}
	}
	return nil
}

// RevokeAllForUserClient revokes every live pair for a user+client combination
func (s *Store) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	if userID == "" || clientID == "" {
		return 0, fmt.Errorf("userID and clientID cannot be empty")
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE token_pairs SET revoked_at = ? WHERE user_id = ? AND client_id = ? AND revoked_at IS NULL",
		time.Now().UTC().UnixMilli(), userID, clientID)
	if err != nil {
		return 0, fmt.Errorf("revoke all pairs: %w", err)
	}
	affected, _ := res.RowsAffected()

	if affected > 0 {
		s.logger.Info("Revoked all token pairs for user+client",
			"user_id", userID,
			"client_id", clientID,
			"pairs_revoked", affected)
	}
	return int(affected), nil
}

// CleanupExpired removes rows that no longer serve any purpose: expired
// codes, consumed codes past their retention window, and revoked or expired
// pairs past theirs. Call periodically from the embedding application.
func (s *Store) CleanupExpired(ctx context.Context, consumedCodeRetention, revokedPairRetention time.Duration) error {
	nowMillis := time.Now().UTC().UnixMilli()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM auth_codes WHERE expires_at < ? OR (consumed_at IS NOT NULL AND consumed_at < ?)",
		nowMillis, nowMillis-consumedCodeRetention.Milliseconds()); err != nil {
		return fmt.Errorf("cleanup codes: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM token_pairs WHERE refresh_expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)",
		nowMillis, nowMillis-revokedPairRetention.Milliseconds()); err != nil {
		return fmt.Errorf("cleanup token pairs: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
