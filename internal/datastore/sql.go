package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dkeye/voicechat/internal/domain"
)

// SQLStore is the sqlite-backed Store.
type SQLStore struct {
	DB  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore opens (or creates) a SQLite database and runs migrations.
func NewSQLStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}
	// A single connection serializes writers, which keeps per-channel
	// timestamp assignment race free.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "set WAL"},
		{"PRAGMA foreign_keys=ON", "enable FK"},
		{"PRAGMA busy_timeout=5000", "set busy_timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("datastore: %s: %w", p.what, err)
		}
	}

	s := &SQLStore{DB: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.DB.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		username        TEXT    NOT NULL UNIQUE CHECK(length(username) > 0),
		password_hash   TEXT    NOT NULL DEFAULT '',
		avatar_url      TEXT    NOT NULL DEFAULT '',
		is_admin        INTEGER NOT NULL DEFAULT 0,
		auto_join_voice INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channels (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		name         TEXT    NOT NULL,
		channel_type TEXT    NOT NULL CHECK(channel_type IN ('text', 'voice')),
		is_private   INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channel_members (
		channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (channel_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content    TEXT    NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_messages_channel_order ON messages (channel_id, created_at, id)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

// Timestamps are stored as unix nanoseconds so consecutive messages never collide.
func toDBTime(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromDBTime(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- Users ----

const userColumns = "id, username, password_hash, avatar_url, is_admin, auto_join_voice, created_at"

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	u := &domain.User{}
	var isAdmin, autoJoin int
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.AvatarURL, &isAdmin, &autoJoin, &createdAt); err != nil {
		return nil, err
	}
	u.IsAdmin = isAdmin != 0
	u.AutoJoinVoice = autoJoin != 0
	u.CreatedAt = fromDBTime(createdAt)
	return u, nil
}

// CreateUser inserts u and fills in its ID and CreatedAt.
func (s *SQLStore) CreateUser(ctx context.Context, u *domain.User) error {
	if err := domain.ValidateUsername(u.Username); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	now := s.now().UTC()
	res, err := s.DB.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, avatar_url, is_admin, auto_join_voice, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		u.Username, u.PasswordHash, u.AvatarURL, boolToInt(u.IsAdmin), boolToInt(u.AutoJoinVoice), toDBTime(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("datastore: create user: %w", ErrUsernameTaken)
		}
		return fmt.Errorf("datastore: create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	u.ID = domain.UserID(id)
	u.CreatedAt = fromDBTime(toDBTime(now))
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	u, err := scanUser(s.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(s.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	return u, nil
}

// UpdateUserProfile stores the user-editable fields.
func (s *SQLStore) UpdateUserProfile(ctx context.Context, u *domain.User) error {
	_, err := s.DB.ExecContext(ctx, "UPDATE users SET avatar_url = ?, auto_join_voice = ? WHERE id = ?",
		u.AvatarURL, boolToInt(u.AutoJoinVoice), u.ID)
	if err != nil {
		return fmt.Errorf("datastore: update user: %w", err)
	}
	return nil
}

func (s *SQLStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("datastore: count users: %w", err)
	}
	return n, nil
}

// ---- Channels ----

// CreateChannel inserts c together with its member set.
func (s *SQLStore) CreateChannel(ctx context.Context, c *domain.Channel) error {
	if !c.Kind.Valid() {
		return fmt.Errorf("datastore: create channel: %w", domain.ErrChannelKind)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("datastore: create channel: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, "INSERT INTO channels (name, channel_type, is_private, created_at) VALUES (?, ?, ?, ?)",
		c.Name, string(c.Kind), boolToInt(c.IsPrivate), toDBTime(now))
	if err != nil {
		return fmt.Errorf("datastore: create channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("datastore: create channel: %w", err)
	}
	for uid := range c.Members {
		if _, err := tx.ExecContext(ctx, "INSERT INTO channel_members (channel_id, user_id) VALUES (?, ?)", id, uid); err != nil {
			return fmt.Errorf("datastore: add channel member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: create channel: %w", err)
	}
	c.ID = domain.ChannelID(id)
	c.CreatedAt = fromDBTime(toDBTime(now))
	return nil
}

func (s *SQLStore) AddChannelMember(ctx context.Context, channel domain.ChannelID, user domain.UserID) error {
	_, err := s.DB.ExecContext(ctx, "INSERT OR IGNORE INTO channel_members (channel_id, user_id) VALUES (?, ?)", channel, user)
	if err != nil {
		return fmt.Errorf("datastore: add channel member: %w", err)
	}
	return nil
}

func (s *SQLStore) CountChannels(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM channels").Scan(&n); err != nil {
		return 0, fmt.Errorf("datastore: count channels: %w", err)
	}
	return n, nil
}

// GetChannel retrieves a channel with its members.
func (s *SQLStore) GetChannel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	c := &domain.Channel{Members: make(map[domain.UserID]struct{})}
	var kind string
	var private int
	var createdAt int64
	err := s.DB.QueryRowContext(ctx, "SELECT id, name, channel_type, is_private, created_at FROM channels WHERE id = ?", id).
		Scan(&c.ID, &c.Name, &kind, &private, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get channel: %w", err)
	}
	c.Kind = domain.ChannelKind(kind)
	c.IsPrivate = private != 0
	c.CreatedAt = fromDBTime(createdAt)

	rows, err := s.DB.QueryContext(ctx, "SELECT user_id FROM channel_members WHERE channel_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("datastore: get channel members: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var uid domain.UserID
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("datastore: scan channel member: %w", err)
		}
		c.Members[uid] = struct{}{}
	}
	return c, rows.Err()
}

// ListChannels returns every channel ordered by ID, members included.
func (s *SQLStore) ListChannels(ctx context.Context) ([]*domain.Channel, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT id, name, channel_type, is_private, created_at FROM channels ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list channels: %w", err)
	}
	var channels []*domain.Channel
	byID := make(map[domain.ChannelID]*domain.Channel)
	for rows.Next() {
		c := &domain.Channel{Members: make(map[domain.UserID]struct{})}
		var kind string
		var private int
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.Name, &kind, &private, &createdAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("datastore: scan channel: %w", err)
		}
		c.Kind = domain.ChannelKind(kind)
		c.IsPrivate = private != 0
		c.CreatedAt = fromDBTime(createdAt)
		channels = append(channels, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("datastore: list channels: %w", err)
	}
	_ = rows.Close()

	members, err := s.DB.QueryContext(ctx, "SELECT channel_id, user_id FROM channel_members")
	if err != nil {
		return nil, fmt.Errorf("datastore: list channel members: %w", err)
	}
	defer func() { _ = members.Close() }()
	for members.Next() {
		var cid domain.ChannelID
		var uid domain.UserID
		if err := members.Scan(&cid, &uid); err != nil {
			return nil, fmt.Errorf("datastore: scan channel member: %w", err)
		}
		if c, ok := byID[cid]; ok {
			c.Members[uid] = struct{}{}
		}
	}
	return channels, members.Err()
}

// ---- Messages ----

const messageViewQuery = `
	SELECT m.id, m.channel_id, m.user_id, m.content, m.created_at, u.username, u.avatar_url
	FROM messages m
	JOIN users u ON u.id = m.user_id
`

func scanMessageViews(rows *sql.Rows) ([]domain.MessageView, error) {
	defer func() { _ = rows.Close() }()
	out := []domain.MessageView{}
	for rows.Next() {
		var v domain.MessageView
		var createdAt int64
		if err := rows.Scan(&v.ID, &v.ChannelID, &v.UserID, &v.Content, &createdAt, &v.Username, &v.AvatarURL); err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		v.Timestamp = fromDBTime(createdAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateMessage persists m with a timestamp strictly after every earlier
// message of the same channel and returns it joined with its author.
func (s *SQLStore) CreateMessage(ctx context.Context, m *domain.Message) (*domain.MessageView, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore: create message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(created_at), 0) FROM messages WHERE channel_id = ?", m.ChannelID).Scan(&last); err != nil {
		return nil, fmt.Errorf("datastore: create message: %w", err)
	}
	ts := toDBTime(s.now())
	if ts <= last {
		ts = last + 1
	}
	res, err := tx.ExecContext(ctx, "INSERT INTO messages (channel_id, user_id, content, created_at) VALUES (?, ?, ?, ?)",
		m.ChannelID, m.UserID, m.Content, ts)
	if err != nil {
		return nil, fmt.Errorf("datastore: create message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("datastore: create message: %w", err)
	}
	view := &domain.MessageView{}
	if err := tx.QueryRowContext(ctx, "SELECT username, avatar_url FROM users WHERE id = ?", m.UserID).Scan(&view.Username, &view.AvatarURL); err != nil {
		return nil, fmt.Errorf("datastore: create message author: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("datastore: create message: %w", err)
	}
	m.ID = domain.MessageID(id)
	m.Timestamp = fromDBTime(ts)
	view.Message = *m
	return view, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLStore) GetMessage(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	m := &domain.Message{}
	var createdAt int64
	err := s.DB.QueryRowContext(ctx, "SELECT id, channel_id, user_id, content, created_at FROM messages WHERE id = ?", id).
		Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get message: %w", err)
	}
	m.Timestamp = fromDBTime(createdAt)
	return m, nil
}

// LatestMessages returns the newest limit messages of channel, newest first.
func (s *SQLStore) LatestMessages(ctx context.Context, channel domain.ChannelID, limit int) ([]domain.MessageView, error) {
	rows, err := s.DB.QueryContext(ctx, messageViewQuery+`
		WHERE m.channel_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: latest messages: %w", err)
	}
	return scanMessageViews(rows)
}

// MessagesBefore returns up to limit messages older than cursor, newest first.
func (s *SQLStore) MessagesBefore(ctx context.Context, channel domain.ChannelID, cursor domain.Message, limit int) ([]domain.MessageView, error) {
	ts := toDBTime(cursor.Timestamp)
	rows, err := s.DB.QueryContext(ctx, messageViewQuery+`
		WHERE m.channel_id = ?
		AND (m.created_at < ? OR (m.created_at = ? AND m.id < ?))
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, channel, ts, ts, cursor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: messages before: %w", err)
	}
	return scanMessageViews(rows)
}
