package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kidgate.dev/internal/identity"
)

// Store implements identity.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ identity.Store = (*Store)(nil)

// Open connects with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Identities(ctx context.Context) identity.IdentityStore {
	return &identityStore{db: s.db}
}
func (s *Store) Sessions(ctx context.Context) identity.SessionStore {
	return &sessionStore{db: s.db}
}
func (s *Store) Messages(ctx context.Context) identity.MessageStore {
	return &messageStore{db: s.db}
}
func (s *Store) SafetyConfigs(ctx context.Context) identity.SafetyConfigStore {
	return &configStore{db: s.db}
}
func (s *Store) Audit(ctx context.Context) identity.AuditStore {
	return &auditStore{db: s.db}
}

type identityStore struct {
	db *sql.DB
}

func (s *identityStore) Create(ctx context.Context, id *identity.Identity) error {
	if id == nil || id.ID == "" {
		return identity.ErrInvalidInput
	}
	if id.GuardianID != "" {
		guardian, err := s.findRow(ctx, `select id, email, name, role, age_bracket, password_hash, pin_hash, coalesce(guardian_id, ''), created_at, updated_at from identities where id = $1`, id.GuardianID)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			return err
		}
		if err := identity.ValidateGuardianLink(id, guardian); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	if id.CreatedAt.IsZero() {
		id.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		insert into identities(id, email, name, role, age_bracket, password_hash, pin_hash, guardian_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, nullif($8, ''), $9, $9)
	`, id.ID, id.Email, id.Name, string(id.Role), string(id.AgeBracket), id.PasswordHash, id.PINHash, id.GuardianID, id.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return identity.ErrAlreadyExists
	}
	return err
}

func (s *identityStore) Find(ctx context.Context, id string) (*identity.Identity, error) {
	rec, err := s.findRow(ctx, `select id, email, name, role, age_bracket, password_hash, pin_hash, coalesce(guardian_id, ''), created_at, updated_at from identities where id = $1`, id)
	if err != nil {
		return nil, err
	}
	return s.loadRelations(ctx, rec)
}

func (s *identityStore) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	rec, err := s.findRow(ctx, `select id, email, name, role, age_bracket, password_hash, pin_hash, coalesce(guardian_id, ''), created_at, updated_at from identities where lower(email) = lower($1)`, email)
	if err != nil {
		return nil, err
	}
	return s.loadRelations(ctx, rec)
}

func (s *identityStore) findRow(ctx context.Context, query, arg string) (*identity.Identity, error) {
	var rec identity.Identity
	var role, bracket string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.ID, &rec.Email, &rec.Name, &role, &bracket,
		&rec.PasswordHash, &rec.PINHash, &rec.GuardianID,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Role = identity.Role(role)
	rec.AgeBracket = identity.AgeBracket(bracket)
	return &rec, nil
}

func (s *identityStore) loadRelations(ctx context.Context, rec *identity.Identity) (*identity.Identity, error) {
	cfg, err := (&configStore{db: s.db}).Find(ctx, rec.ID)
	if err == nil {
		rec.SafetyConfig = cfg
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `select id, identity_id, keyword, is_pattern, created_at from blocked_topics where identity_id = $1 order by created_at asc`, rec.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t identity.BlockedTopic
		if err := rows.Scan(&t.ID, &t.IdentityID, &t.Keyword, &t.IsPattern, &t.CreatedAt); err != nil {
			return nil, err
		}
		rec.BlockedTopics = append(rec.BlockedTopics, t)
	}
	return rec, rows.Err()
}

func (s *identityStore) AddBlockedTopic(ctx context.Context, topic *identity.BlockedTopic) error {
	if topic == nil || topic.IdentityID == "" || topic.Keyword == "" {
		return identity.ErrInvalidInput
	}
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into blocked_topics(id, identity_id, keyword, is_pattern, created_at)
		values ($1, $2, $3, $4, $5)
	`, topic.ID, topic.IdentityID, topic.Keyword, topic.IsPattern, topic.CreatedAt)
	return err
}

type sessionStore struct {
	db *sql.DB
}

func (s *sessionStore) Create(ctx context.Context, sess *identity.Session) error {
	if sess == nil || sess.ID == "" || sess.TokenHash == "" {
		return identity.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, identity_id, token_hash, user_agent, platform, ip, active, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sess.ID, sess.IdentityID, sess.TokenHash,
		sess.Device.UserAgent, sess.Device.Platform, sess.Device.IP,
		sess.Active, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s *sessionStore) FindByTokenHash(ctx context.Context, hash string) (*identity.Session, error) {
	var sess identity.Session
	err := s.db.QueryRowContext(ctx, `
		select id, identity_id, token_hash, user_agent, platform, ip, active, created_at, expires_at
		from sessions where token_hash = $1
	`, hash).Scan(
		&sess.ID, &sess.IdentityID, &sess.TokenHash,
		&sess.Device.UserAgent, &sess.Device.Platform, &sess.Device.IP,
		&sess.Active, &sess.CreatedAt, &sess.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update sessions set active = false where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

type messageStore struct {
	db *sql.DB
}

func (s *messageStore) Append(ctx context.Context, m *identity.Message) error {
	if m == nil || m.ID == "" {
		return identity.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		insert into chat_messages(id, identity_id, role, content, mode, flagged, flag_reason, score, source, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.IdentityID, string(m.Role), m.Content, m.Mode,
		m.Flagged, m.FlagReason, m.Score, string(m.Source), m.CreatedAt)
	return err
}

type configStore struct {
	db *sql.DB
}

func (s *configStore) Find(ctx context.Context, identityID string) (*identity.SafetyConfig, error) {
	var cfg identity.SafetyConfig
	var maturity string
	var restrictions, categories []byte
	err := s.db.QueryRowContext(ctx, `
		select identity_id, maturity, require_pin, crisis_detection, weekly_digest,
		       session_limit_minutes, time_restrictions, blocked_categories, updated_at
		from safety_configs where identity_id = $1
	`, identityID).Scan(
		&cfg.IdentityID, &maturity, &cfg.RequirePIN, &cfg.CrisisDetection,
		&cfg.WeeklyDigest, &cfg.SessionLimitMinutes, &restrictions, &categories,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg.Maturity = identity.MaturityTier(maturity)
	if len(restrictions) > 0 {
		if err := json.Unmarshal(restrictions, &cfg.TimeRestrictions); err != nil {
			return nil, err
		}
	}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &cfg.BlockedCategories); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (s *configStore) Upsert(ctx context.Context, cfg *identity.SafetyConfig) error {
	if cfg == nil || cfg.IdentityID == "" {
		return identity.ErrInvalidInput
	}
	restrictions, err := json.Marshal(cfg.TimeRestrictions)
	if err != nil {
		return err
	}
	categories, err := json.Marshal(cfg.BlockedCategories)
	if err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		insert into safety_configs(identity_id, maturity, require_pin, crisis_detection, weekly_digest,
		                           session_limit_minutes, time_restrictions, blocked_categories, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (identity_id) do update set
			maturity = excluded.maturity,
			require_pin = excluded.require_pin,
			crisis_detection = excluded.crisis_detection,
			weekly_digest = excluded.weekly_digest,
			session_limit_minutes = excluded.session_limit_minutes,
			time_restrictions = excluded.time_restrictions,
			blocked_categories = excluded.blocked_categories,
			updated_at = excluded.updated_at
	`, cfg.IdentityID, string(cfg.Maturity), cfg.RequirePIN, cfg.CrisisDetection,
		cfg.WeeklyDigest, cfg.SessionLimitMinutes, restrictions, categories, cfg.UpdatedAt)
	return err
}

type auditStore struct {
	db *sql.DB
}

func (s *auditStore) Append(ctx context.Context, ev *identity.AuditEvent) error {
	if ev == nil || ev.Type == "" {
		return identity.ErrInvalidInput
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events(id, identity_id, event_type, severity, description, metadata, occurred_at)
		values ($1, nullif($2, ''), $3, $4, $5, $6, $7)
	`, ev.ID, ev.IdentityID, ev.Type, string(ev.Severity), ev.Description, metadata, ev.OccurredAt)
	return err
}

// isUniqueViolation matches PostgreSQL error code 23505 without importing the
// pgx error types, so sqlmock-backed tests stay driver-agnostic.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
