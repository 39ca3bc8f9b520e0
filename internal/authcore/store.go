package authcore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artha-au/baasd/internal/apperrors"
)

// Store persists users, roles and the token blacklist, and tracks each
// user's failed-login counter and lockout.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `u.id, u.email, u.username, u.password_hash, u.role_id, r.name,
	u.is_verified, u.is_active, u.failed_login_attempts, u.locked_until, u.last_login_at,
	u.created_at, u.updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.RoleID, &u.RoleName,
		&u.IsVerified, &u.IsActive, &u.FailedLoginAttempts, &u.LockedUntil, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail looks up a user by email, joined with its role name.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN roles r ON r.id = u.role_id
		WHERE u.email = ?`, email)
	return scanUser(row)
}

// GetUserByID looks up a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN roles r ON r.id = u.role_id
		WHERE u.id = ?`, id)
	return scanUser(row)
}

// GetRoleByName looks up a role by its unique name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var r Role
	err := s.db.QueryRowContext(ctx, `SELECT id, name, priority, description FROM roles WHERE name = ?`, name).
		Scan(&r.ID, &r.Name, &r.Priority, &r.Description)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("role")
	}
	if err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}
	return &r, nil
}

// GetRoleByID looks up a role by id.
func (s *Store) GetRoleByID(ctx context.Context, id string) (*Role, error) {
	var r Role
	err := s.db.QueryRowContext(ctx, `SELECT id, name, priority, description FROM roles WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Priority, &r.Description)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("role")
	}
	if err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}
	return &r, nil
}

// ListRoles returns every declared role, ordered by descending priority.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, priority, description FROM roles ORDER BY priority DESC`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Priority, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRole registers a new role.
func (s *Store) CreateRole(ctx context.Context, name, description string, priority int) (*Role, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO roles (id, name, priority, description) VALUES (?, ?, ?, ?)`,
		id, name, priority, description)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.New(apperrors.KindConflict, fmt.Sprintf("role %q already exists", name))
		}
		return nil, fmt.Errorf("create role: %w", err)
	}
	return &Role{ID: id, Name: name, Priority: priority, Description: description}, nil
}

// builtinRoles can never be renamed or deleted; the resolver and the
// registration default depend on them existing.
var builtinRoles = map[string]bool{"admin": true, "user": true}

// UpdateRole changes a role's priority and description. The name itself
// is immutable once created, matching collection names.
func (s *Store) UpdateRole(ctx context.Context, name, description string, priority int) (*Role, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE roles SET priority = ?, description = ? WHERE name = ?`,
		priority, description, name)
	if err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, apperrors.NotFound("role")
	}
	return s.GetRoleByName(ctx, name)
}

// DeleteRole removes a non-builtin role. Users still holding the role
// block the delete via the foreign key on users.role_id.
func (s *Store) DeleteRole(ctx context.Context, name string) error {
	if builtinRoles[name] {
		return apperrors.Validation(fmt.Sprintf("role %q is built in and cannot be deleted", name))
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE name = ?`, name)
	if err != nil {
		return apperrors.Wrap(apperrors.KindConflict, err, "role is still assigned to users")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return apperrors.NotFound("role")
	}
	return nil
}

// CreateUser inserts a newly registered user with the role roleID,
// failing with Conflict on a duplicate email/username.
func (s *Store) CreateUser(ctx context.Context, email, username, passwordHash, roleID string) (*User, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, password_hash, role_id, is_verified, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 1, ?, ?)`,
		id, email, username, passwordHash, roleID, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.New(apperrors.KindConflict, "email or username already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// RecordFailedLogin increments the failure counter and, once the
// threshold is reached, sets locked_until.
func (s *Store) RecordFailedLogin(ctx context.Context, userID string, maxAttempts int, lockoutDuration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET failed_login_attempts = failed_login_attempts + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}

	var attempts int
	if err := s.db.QueryRowContext(ctx, `SELECT failed_login_attempts FROM users WHERE id = ?`, userID).Scan(&attempts); err != nil {
		return fmt.Errorf("read failed login count: %w", err)
	}
	if attempts >= maxAttempts {
		lockedUntil := time.Now().UTC().Add(lockoutDuration)
		if _, err := s.db.ExecContext(ctx, `UPDATE users SET locked_until = ? WHERE id = ?`, lockedUntil, userID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
	}
	return nil
}

// RecordSuccessfulLogin resets the failure counter and lock, and stamps
// last_login_at.
func (s *Store) RecordSuccessfulLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, last_login_at = ?, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), time.Now().UTC(), userID)
	return err
}

// SetUserRole moves a user onto a different role.
func (s *Store) SetUserRole(ctx context.Context, userID, roleID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role_id = ?, updated_at = ? WHERE id = ?`,
		roleID, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return apperrors.NotFound("user")
	}
	return nil
}

// SetVerified marks a user's email verified.
func (s *Store) SetVerified(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_verified = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), userID)
	return err
}

// BlacklistToken inserts a jti into the blacklist.
func (s *Store) BlacklistToken(ctx context.Context, jti, userID string, tokenType TokenType, expiresAt time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_blacklist (jti, user_id, token_type, expires_at, blacklisted_at, reason)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(jti) DO NOTHING`,
		jti, userID, string(tokenType), expiresAt, time.Now().UTC(), reason)
	return err
}

// IsBlacklisted reports whether jti has been blacklisted.
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM token_blacklist WHERE jti = ?`, jti).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return true, nil
}

// SweepExpiredBlacklist deletes blacklist rows whose original token
// expiry has passed; an expired token fails validation on its own, so
// the row no longer earns its keep.
func (s *Store) SweepExpiredBlacklist(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM token_blacklist WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep blacklist: %w", err)
	}
	return result.RowsAffected()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
