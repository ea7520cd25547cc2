package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/postgres/migrations"
)

const pgUniqueViolation = "23505"

const userColumns = `id, email, name, password_hash, is_email_verified,
	email_verify_token, email_verify_expiry, login_attempts, locked_until,
	two_factor_enabled, two_factor_secret, backup_codes, last_totp_counter,
	last_login, created_at`

// Store is a Postgres-backed authcore.Store.
type Store struct {
	db *sql.DB
}

var _ authcore.Store = (*Store)(nil)

// Open connects with the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return New(db), nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (authcore.UserRecord, error) {
	var (
		u           authcore.UserRecord
		verifyToken sql.NullString
		verifyExp   sql.NullTime
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
		backupCodes []byte
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsEmailVerified,
		&verifyToken, &verifyExp, &u.LoginAttempts, &lockedUntil,
		&u.TwoFactorEnabled, &u.TwoFactorSecret, &backupCodes, &u.LastTOTPCounter,
		&lastLogin, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, unavailable(err)
	}

	u.EmailVerifyToken = verifyToken.String
	u.EmailVerifyExpiry = timePtr(verifyExp)
	u.LockedUntil = timePtr(lockedUntil)
	u.LastLogin = timePtr(lastLogin)
	if len(backupCodes) > 0 {
		if err := json.Unmarshal(backupCodes, &u.BackupCodes); err != nil {
			return authcore.UserRecord{}, fmt.Errorf("decode backup codes: %w", err)
		}
	}
	if len(u.BackupCodes) == 0 {
		u.BackupCodes = nil
	}
	return u, nil
}

// CreateUser inserts user; a unique violation maps to authcore.ErrUserExists.
func (s *Store) CreateUser(ctx context.Context, user authcore.UserRecord) error {
	codes, err := encodeCodes(user.BackupCodes)
	if err != nil {
		return err
	}

	query :=
		`INSERT INTO users (` + userColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash, user.IsEmailVerified,
		nullString(user.EmailVerifyToken), nullTime(user.EmailVerifyExpiry), user.LoginAttempts, nullTime(user.LockedUntil),
		user.TwoFactorEnabled, user.TwoFactorSecret, codes, user.LastTOTPCounter,
		nullTime(user.LastLogin), user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.ErrUserExists
		}
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, userID))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *Store) GetUserByVerifyToken(ctx context.Context, tokenHash string) (authcore.UserRecord, error) {
	if tokenHash == "" {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE email_verify_token = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

// UpdateUser reads the row FOR UPDATE, applies fn, and writes the result in
// the same transaction. An error from fn rolls back and is returned as is.
func (s *Store) UpdateUser(ctx context.Context, userID string, fn func(*authcore.UserRecord) error) (authcore.UserRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authcore.UserRecord{}, unavailable(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	user, err := scanUser(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		return authcore.UserRecord{}, err
	}

	if err := fn(&user); err != nil {
		return authcore.UserRecord{}, err
	}
	user.ID = userID

	codes, err := encodeCodes(user.BackupCodes)
	if err != nil {
		return authcore.UserRecord{}, err
	}

	update :=
		`UPDATE users SET
		    email = $2, name = $3, password_hash = $4, is_email_verified = $5,
		    email_verify_token = $6, email_verify_expiry = $7, login_attempts = $8,
		    locked_until = $9, two_factor_enabled = $10, two_factor_secret = $11,
		    backup_codes = $12, last_totp_counter = $13, last_login = $14
		 WHERE id = $1`

	_, err = tx.ExecContext(ctx, update,
		user.ID, user.Email, user.Name, user.PasswordHash, user.IsEmailVerified,
		nullString(user.EmailVerifyToken), nullTime(user.EmailVerifyExpiry), user.LoginAttempts,
		nullTime(user.LockedUntil), user.TwoFactorEnabled, user.TwoFactorSecret,
		codes, user.LastTOTPCounter, nullTime(user.LastLogin),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.UserRecord{}, authcore.ErrUserExists
		}
		return authcore.UserRecord{}, unavailable(err)
	}

	if err := tx.Commit(); err != nil {
		return authcore.UserRecord{}, unavailable(err)
	}
	committed = true
	return user, nil
}

// DeleteUser removes the user row. Refresh tokens go with it through the
// ON DELETE CASCADE foreign key.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, record authcore.RefreshTokenRecord) error {
	query :=
		`INSERT INTO refresh_tokens (token, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`

	if _, err := s.db.ExecContext(ctx, query, record.Token, record.UserID, record.ExpiresAt, record.CreatedAt); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (authcore.RefreshTokenRecord, error) {
	query :=
		`SELECT token, user_id, expires_at, created_at FROM refresh_tokens
		 WHERE token = $1`

	var r authcore.RefreshTokenRecord
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&r.Token, &r.UserID, &r.ExpiresAt, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.RefreshTokenRecord{}, authcore.ErrRefreshTokenNotFound
		}
		return authcore.RefreshTokenRecord{}, unavailable(err)
	}
	return r, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, tokenHash); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) DeleteUserRefreshTokens(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: db error: %v", authcore.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func encodeCodes(codes []string) ([]byte, error) {
	if codes == nil {
		codes = []string{}
	}
	data, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("encode backup codes: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
