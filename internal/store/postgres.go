package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const userColumns = `id, login, mail, firstname, lastname, password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Login, &user.Mail, &user.Firstname, &user.Lastname, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (login, mail, firstname, lastname, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		user.Login, user.Mail, user.Firstname, user.Lastname, user.PasswordHash,
	)
	created, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByLogin(ctx context.Context, login string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE login=$1`, login))
}

func (s *PostgresStore) GetUserByMail(ctx context.Context, mail string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(mail)=LOWER($1)`, mail))
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID string, patch UserPatch) error {
	var sets []string
	var args []any
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	add("login", patch.Login)
	add("mail", patch.Mail)
	add("firstname", patch.Firstname)
	add("lastname", patch.Lastname)
	add("password_hash", patch.PasswordHash)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, userID)
	query := fmt.Sprintf(`UPDATE users SET %s, updated_at=NOW() WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.login, u.mail, u.firstname, u.lastname, u.password_hash, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// CreateSheet inserts the sheet and grants ownerID the owner right in one transaction.
func (s *PostgresStore) CreateSheet(ctx context.Context, sheet Sheet, ownerID string) (Sheet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Sheet{}, fmt.Errorf("begin create sheet: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var created Sheet
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sheets (title, detail)
		VALUES ($1, $2)
		RETURNING id, title, detail, created_at, updated_at
	`, sheet.Title, sheet.Detail).Scan(&created.ID, &created.Title, &created.Detail, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return Sheet{}, fmt.Errorf("insert sheet: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sheet_access (user_id, sheet_id, access_right)
		VALUES ($1, $2, 'owner')
	`, ownerID, created.ID); err != nil {
		return Sheet{}, fmt.Errorf("insert owner grant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Sheet{}, fmt.Errorf("commit create sheet: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetSheet(ctx context.Context, sheetID int64) (Sheet, error) {
	var sheet Sheet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, detail, created_at, updated_at FROM sheets WHERE id=$1
	`, sheetID).Scan(&sheet.ID, &sheet.Title, &sheet.Detail, &sheet.CreatedAt, &sheet.UpdatedAt)
	if err != nil {
		return Sheet{}, err
	}
	return sheet, nil
}

func (s *PostgresStore) UpdateSheet(ctx context.Context, sheetID int64, title, detail *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sheets
		SET title=COALESCE($2, title), detail=COALESCE($3, detail), updated_at=NOW()
		WHERE id=$1
	`, sheetID, title, detail)
	if err != nil {
		return fmt.Errorf("update sheet: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteSheet(ctx context.Context, sheetID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sheets WHERE id=$1`, sheetID)
	if err != nil {
		return fmt.Errorf("delete sheet: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListSheetsForUser(ctx context.Context, userID string, scope SheetScope) ([]AccessibleSheet, error) {
	query := `
		SELECT s.id, s.title, s.detail, s.created_at, s.updated_at, sa.access_right
		FROM sheets s
		JOIN sheet_access sa ON sa.sheet_id = s.id
		WHERE sa.user_id = $1
	`
	switch scope {
	case ScopeOwned:
		query += ` AND sa.access_right = 'owner'`
	case ScopeShared:
		query += ` AND sa.access_right <> 'owner'`
	}
	query += ` ORDER BY s.updated_at DESC, s.id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	defer rows.Close()

	sheets := make([]AccessibleSheet, 0)
	for rows.Next() {
		var item AccessibleSheet
		if err := rows.Scan(&item.ID, &item.Title, &item.Detail, &item.CreatedAt, &item.UpdatedAt, &item.AccessRight); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		sheets = append(sheets, item)
	}
	return sheets, rows.Err()
}

// GetGrant returns sql.ErrNoRows when the user has no access to the sheet.
func (s *PostgresStore) GetGrant(ctx context.Context, userID string, sheetID int64) (Grant, error) {
	var grant Grant
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, sheet_id, access_right, granted_at
		FROM sheet_access
		WHERE user_id=$1 AND sheet_id=$2
	`, userID, sheetID).Scan(&grant.UserID, &grant.SheetID, &grant.AccessRight, &grant.GrantedAt)
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

func (s *PostgresStore) UpsertGrant(ctx context.Context, grant Grant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sheet_access (user_id, sheet_id, access_right)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, sheet_id) DO UPDATE SET access_right=EXCLUDED.access_right, granted_at=NOW()
	`, grant.UserID, grant.SheetID, grant.AccessRight)
	if err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGrant(ctx context.Context, userID string, sheetID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sheet_access WHERE user_id=$1 AND sheet_id=$2`, userID, sheetID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListSheetMembers(ctx context.Context, sheetID int64) ([]SheetMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.login, u.firstname, u.lastname, sa.access_right
		FROM sheet_access sa
		JOIN users u ON u.id = sa.user_id
		WHERE sa.sheet_id = $1
		ORDER BY u.login
	`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list sheet members: %w", err)
	}
	defer rows.Close()

	members := make([]SheetMember, 0)
	for rows.Next() {
		var member SheetMember
		if err := rows.Scan(&member.UserID, &member.Login, &member.Firstname, &member.Lastname, &member.AccessRight); err != nil {
			return nil, fmt.Errorf("scan sheet member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
