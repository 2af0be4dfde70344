package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"guild-access/internal/domain"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	// malformed uuid text in a uuid column
	invalidTextRepresentation = "22P02"
)

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	assignmentColumns = []string{
		"id", "guild_id", "user_id", "role", "assigned_at",
		"assigned_by", "source", "created_at", "revoked_at",
	}
	auditColumns = []string{
		"id", "action", "guild_id", "actor_user_id", "target_user_id", "metadata", "created_at",
	}
)

// Store serves profiles, guild_user_roles and audit_logs.
type Store struct {
	db *sql.DB
}

// New wraps pool with the pgx stdlib adapter.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: stdlib.OpenDBFromPool(pool)}
}

func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetAppRole(ctx context.Context, userID string) (domain.Role, error) {
	var appRole sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT app_role FROM profiles WHERE id = $1`, userID).Scan(&appRole)
	if errors.Is(err, sql.ErrNoRows) || pgErrCode(err) == invalidTextRepresentation {
		return domain.RoleNone, domain.ErrNotFound
	}
	if err != nil {
		return domain.RoleNone, fmt.Errorf("get app role: %w", err)
	}
	if !appRole.Valid {
		return domain.RoleNone, nil
	}
	role, err := domain.ParseRole(appRole.String)
	if err != nil || role != domain.RoleSuperAdmin {
		return domain.RoleNone, fmt.Errorf("get app role: unexpected value %q", appRole.String)
	}
	return role, nil
}

func (s *Store) FindIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM profiles WHERE lower(email) = lower($1)`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find profile by email: %w", err)
	}
	return id, nil
}

// UpsertProfile creates or updates a profile row; used for seeding.
func (s *Store) UpsertProfile(ctx context.Context, p domain.UserProfile) error {
	var appRole any
	if p.AppRole == domain.RoleSuperAdmin {
		appRole = p.AppRole.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, display_name, app_role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, display_name = EXCLUDED.display_name, app_role = EXCLUDED.app_role`,
		p.ID, p.Email, p.DisplayName, appRole)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) GetActive(ctx context.Context, guildID, userID string) (domain.GuildRoleAssignment, error) {
	query, args, err := psql.Select(assignmentColumns...).
		From("guild_user_roles").
		Where(sq.Eq{"guild_id": guildID}).
		Where(sq.Eq{"user_id": userID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return domain.GuildRoleAssignment{}, fmt.Errorf("get active assignment: build query: %w", err)
	}
	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) || pgErrCode(err) == invalidTextRepresentation {
		return domain.GuildRoleAssignment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.GuildRoleAssignment{}, fmt.Errorf("get active assignment: %w", err)
	}
	return a, nil
}

func (s *Store) ListActiveByGuild(ctx context.Context, guildID string) ([]domain.GuildRoleAssignment, error) {
	return s.listActive(ctx, "list guild assignments", sq.Eq{"guild_id": guildID})
}

func (s *Store) ListActiveByUser(ctx context.Context, userID string) ([]domain.GuildRoleAssignment, error) {
	return s.listActive(ctx, "list user assignments", sq.Eq{"user_id": userID})
}

func (s *Store) listActive(ctx context.Context, op string, pred sq.Eq) ([]domain.GuildRoleAssignment, error) {
	query, args, err := psql.Select(assignmentColumns...).
		From("guild_user_roles").
		Where(pred).
		Where("revoked_at IS NULL").
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if pgErrCode(err) == invalidTextRepresentation {
		return make([]domain.GuildRoleAssignment, 0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.GuildRoleAssignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, a domain.GuildRoleAssignment) error {
	query, args, err := psql.Insert("guild_user_roles").
		Columns(assignmentColumns[:8]...).
		Values(a.ID, a.GuildID, a.UserID, a.Role.String(), a.AssignedAt,
			nullable(a.AssignedByUserID), string(a.Source), a.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("insert assignment: build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		switch pgErrCode(err) {
		case uniqueViolation:
			return domain.ErrConflict
		case foreignKeyViolation, invalidTextRepresentation:
			return domain.ErrNotFound
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (s *Store) UpdateRole(ctx context.Context, a domain.GuildRoleAssignment, keepAdmin bool) error {
	query, args, err := psql.Update("guild_user_roles").
		Set("role", a.Role.String()).
		Set("assigned_at", a.AssignedAt).
		Set("assigned_by", nullable(a.AssignedByUserID)).
		Set("source", string(a.Source)).
		Where(sq.Eq{"id": a.ID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("update assignment: build query: %w", err)
	}
	return s.guardedExec(ctx, "update assignment", a, keepAdmin, query, args)
}

func (s *Store) Revoke(ctx context.Context, a domain.GuildRoleAssignment, at time.Time, keepAdmin bool) error {
	query, args, err := psql.Update("guild_user_roles").
		Set("revoked_at", at).
		Where(sq.Eq{"id": a.ID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("revoke assignment: build query: %w", err)
	}
	return s.guardedExec(ctx, "revoke assignment", a, keepAdmin, query, args)
}

// guardedExec runs a single-row write. With keepAdmin it first locks the
// guild's active admin rows, so concurrent demotions serialize and the last
// admin cannot be removed.
func (s *Store) guardedExec(ctx context.Context, op string, a domain.GuildRoleAssignment, keepAdmin bool, query string, args []any) error {
	if !keepAdmin {
		return execOne(ctx, s.db, op, query, args)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	others, err := lockOtherAdmins(ctx, tx, a.GuildID, a.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if others == 0 {
		return domain.ErrLastGuildAdmin
	}
	if err := execOne(ctx, tx, op, query, args); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func lockOtherAdmins(ctx context.Context, tx *sql.Tx, guildID, userID string) (int, error) {
	query, args, err := psql.Select("user_id").
		From("guild_user_roles").
		Where(sq.Eq{"guild_id": guildID, "role": domain.RoleGuildAdmin.String()}).
		Where("revoked_at IS NULL").
		OrderBy("id").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("lock guild admins: build query: %w", err)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("lock guild admins: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	others := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("lock guild admins: scan: %w", err)
		}
		if id != userID {
			others++
		}
	}
	return others, rows.Err()
}

func (s *Store) Record(ctx context.Context, e domain.AuditEntry) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("record audit: encode metadata: %w", err)
	}
	query, args, err := psql.Insert("audit_logs").
		Columns(auditColumns...).
		Values(e.ID, string(e.Action), nullable(e.GuildID), nullable(e.ActorUserID),
			nullable(e.TargetUserID), raw, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("record audit: build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

func (s *Store) ListByGuild(ctx context.Context, guildID string, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	return s.listAudit(ctx, sq.Eq{"guild_id": guildID}, filter)
}

func (s *Store) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	return s.listAudit(ctx, nil, filter)
}

func (s *Store) listAudit(ctx context.Context, scope sq.Sqlizer, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	filter = filter.Normalize()
	sb := psql.Select(auditColumns...).
		From("audit_logs").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.Limit)) //nolint:gosec // clamped by Normalize
	if scope != nil {
		sb = sb.Where(scope)
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		sb = sb.Where(sq.Eq{"action": actions})
	}
	if !filter.Before.IsZero() {
		sb = sb.Where(sq.Lt{"created_at": filter.Before})
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list audit logs: build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var (
			e                    domain.AuditEntry
			action               string
			guild, actor, target sql.NullString
			raw                  []byte
		)
		if err := rows.Scan(&e.ID, &action, &guild, &actor, &target, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list audit logs: scan: %w", err)
		}
		e.Action = domain.AuditAction(action)
		e.GuildID, e.ActorUserID, e.TargetUserID = guild.String, actor.String, target.String
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("list audit logs: decode metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execOne(ctx context.Context, db execer, op, query string, args []any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (domain.GuildRoleAssignment, error) {
	var (
		a          domain.GuildRoleAssignment
		role       string
		source     string
		assignedBy sql.NullString
		revokedAt  sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.GuildID, &a.UserID, &role, &a.AssignedAt,
		&assignedBy, &source, &a.CreatedAt, &revokedAt); err != nil {
		return domain.GuildRoleAssignment{}, err
	}
	parsed, err := domain.ParseGuildRole(role)
	if err != nil {
		return domain.GuildRoleAssignment{}, err
	}
	a.Role = parsed
	a.Source = domain.AssignmentSource(source)
	a.AssignedByUserID = assignedBy.String
	if revokedAt.Valid {
		t := revokedAt.Time
		a.RevokedAt = &t
	}
	return a, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
