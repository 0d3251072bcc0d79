package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
	// ErrSessionNotFound is returned for unknown, expired, or revoked refresh tokens.
	ErrSessionNotFound = errors.New("refresh session not found or expired")
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

const userColumns = `id, display_name, email, password_hash, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var expires sql.NullTime
	if err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified,
		&user.VerificationToken, &expires, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	if expires.Valid {
		user.VerificationExpiresAt = &expires.Time
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// CreateUser inserts the account and its empty profile together.
func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	return runInTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
			VALUES ($1, $2, LOWER($3), $4, $5, NULLIF($6, ''))
		`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
		if err != nil {
			return mapWriteError("insert user", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO profiles (id, updated_at) VALUES ($1, NOW())`, user.ID); err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token); err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// Sessions

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

// ConsumeRefreshSession revokes a live refresh session and returns its
// owner in one statement. Of two concurrent callers only one gets the user.
func (s *PostgresStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		WITH consumed AS (
			UPDATE refresh_sessions SET revoked_at = NOW()
			WHERE token_hash = $1
				AND revoked_at IS NULL
				AND expires_at > NOW()
			RETURNING user_id
		)
		SELECT u.id, u.display_name, u.email, u.password_hash, u.is_email_verified,
			COALESCE(u.verification_token, ''), u.verification_expires_at, u.created_at, u.updated_at
		FROM consumed c
		JOIN users u ON u.id = c.user_id
	`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrSessionNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("consume refresh session: %w", err)
	}
	return user, nil
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
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// Profiles

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	var updated sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(avatar_url, ''), updated_at
		FROM profiles WHERE id=$1
	`, userID).Scan(&profile.ID, &profile.FirstName, &profile.LastName, &profile.AvatarURL, &updated)
	if err != nil {
		return Profile{}, err
	}
	if updated.Valid {
		profile.UpdatedAt = &updated.Time
	}
	return profile, nil
}

func (s *PostgresStore) UpdateProfileName(ctx context.Context, userID, firstName, lastName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, first_name, last_name, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NOW())
		ON CONFLICT (id) DO UPDATE SET first_name=EXCLUDED.first_name, last_name=EXCLUDED.last_name, updated_at=NOW()
	`, userID, firstName, lastName)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAvatarURL(ctx context.Context, userID, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, avatar_url, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET avatar_url=EXCLUDED.avatar_url, updated_at=NOW()
	`, userID, avatarURL)
	if err != nil {
		return fmt.Errorf("set avatar url: %w", err)
	}
	return nil
}

// Pillars and micro-activities

func (s *PostgresStore) ListPillars(ctx context.Context) ([]Pillar, error) {
	return listPillars(ctx, s.db)
}

func listPillars(ctx context.Context, q queryer) ([]Pillar, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, COALESCE(description, '') FROM pillars ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list pillars: %w", err)
	}
	defer rows.Close()

	var pillars []Pillar
	for rows.Next() {
		var p Pillar
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, fmt.Errorf("scan pillar: %w", err)
		}
		pillars = append(pillars, p)
	}
	return pillars, rows.Err()
}

func (s *PostgresStore) ListMicroActivities(ctx context.Context, userID string) ([]MicroActivity, error) {
	return listMicroActivities(ctx, s.db, userID)
}

func listMicroActivities(ctx context.Context, q queryer, userID string) ([]MicroActivity, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, pillar_id, name, COALESCE(description, ''), created_at
		FROM micro_activities
		WHERE user_id=$1
		ORDER BY created_at, name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list micro activities: %w", err)
	}
	defer rows.Close()

	var activities []MicroActivity
	for rows.Next() {
		var a MicroActivity
		if err := rows.Scan(&a.ID, &a.UserID, &a.PillarID, &a.Name, &a.Description, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan micro activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// ReplaceMicroActivities swaps the user's whole selection atomically.
// Existing logs of removed activities cascade away with them.
func (s *PostgresStore) ReplaceMicroActivities(ctx context.Context, userID string, activities []MicroActivity) error {
	return runInTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM micro_activities WHERE user_id=$1`, userID); err != nil {
			return fmt.Errorf("clear micro activities: %w", err)
		}
		for _, a := range activities {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO micro_activities (user_id, pillar_id, name, description)
				VALUES ($1, $2, $3, NULLIF($4, ''))
			`, userID, a.PillarID, a.Name, a.Description)
			if err != nil {
				return mapWriteError("insert micro activity", err)
			}
		}
		return nil
	})
}

// Activity logs

func (s *PostgresStore) ListActivityLogs(ctx context.Context, userID string, from, to time.Time) ([]ActivityLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, micro_activity_id, COALESCE(notes, ''), logged_at
		FROM activity_logs
		WHERE user_id=$1 AND logged_at >= $2 AND logged_at < $3
		ORDER BY logged_at
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	defer rows.Close()

	var logs []ActivityLog
	for rows.Next() {
		var l ActivityLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.MicroActivityID, &l.Notes, &l.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func loggedActivityIDs(ctx context.Context, q queryer, userID string, from, to time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT micro_activity_id
		FROM activity_logs
		WHERE user_id=$1 AND logged_at >= $2 AND logged_at < $3
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list logged activity ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan activity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Check-ins

func (s *PostgresStore) UpsertCheckIn(ctx context.Context, checkIn CheckIn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_ins (user_id, type, content, check_in_date, checked_in_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, type, check_in_date) DO UPDATE SET content=EXCLUDED.content, checked_in_at=EXCLUDED.checked_in_at
	`, checkIn.UserID, checkIn.Type, []byte(checkIn.Content), checkIn.Date, checkIn.CheckedInAt)
	if err != nil {
		return fmt.Errorf("upsert check-in: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCheckInsOn(ctx context.Context, userID string, date time.Time) ([]CheckIn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, COALESCE(content, 'null'::jsonb), check_in_date, checked_in_at
		FROM check_ins
		WHERE user_id=$1 AND check_in_date=$2
	`, userID, date)
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	defer rows.Close()

	var items []CheckIn
	for rows.Next() {
		var c CheckIn
		var content []byte
		if err := rows.Scan(&c.ID, &c.UserID, &c.Type, &content, &c.Date, &c.CheckedInAt); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		c.Content = json.RawMessage(content)
		items = append(items, c)
	}
	return items, rows.Err()
}

// Reminder windows

func (s *PostgresStore) ListReminderWindows(ctx context.Context, userID string) ([]ReminderWindow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, to_char(start_time, 'HH24:MI:SS'), to_char(end_time, 'HH24:MI:SS'), created_at
		FROM reminder_windows
		WHERE user_id=$1
		ORDER BY start_time, name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reminder windows: %w", err)
	}
	defer rows.Close()

	var windows []ReminderWindow
	for rows.Next() {
		var w ReminderWindow
		if err := rows.Scan(&w.ID, &w.UserID, &w.Name, &w.StartTime, &w.EndTime, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder window: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func (s *PostgresStore) ReplaceReminderWindows(ctx context.Context, userID string, windows []ReminderWindow) error {
	return runInTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reminder_windows WHERE user_id=$1`, userID); err != nil {
			return fmt.Errorf("clear reminder windows: %w", err)
		}
		for _, w := range windows {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO reminder_windows (user_id, name, start_time, end_time)
				VALUES ($1, $2, $3::time, $4::time)
			`, userID, w.Name, w.StartTime, w.EndTime)
			if err != nil {
				return fmt.Errorf("insert reminder window: %w", err)
			}
		}
		return nil
	})
}

// Streaks

func (s *PostgresStore) ListStreaks(ctx context.Context, userID string) ([]Streak, error) {
	return listStreaks(ctx, s.db, userID)
}

func listStreaks(ctx context.Context, q queryer, userID string) ([]Streak, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(pillar_id::text, ''), category, current_streak, longest_streak, last_logged_date, updated_at
		FROM streaks
		WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list streaks: %w", err)
	}
	defer rows.Close()

	var streaks []Streak
	for rows.Next() {
		var st Streak
		var last sql.NullTime
		if err := rows.Scan(&st.ID, &st.UserID, &st.PillarID, &st.Category, &st.CurrentStreak, &st.LongestStreak, &last, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan streak: %w", err)
		}
		if last.Valid {
			st.LastLoggedDate = &last.Time
		}
		streaks = append(streaks, st)
	}
	return streaks, rows.Err()
}

func upsertStreak(ctx context.Context, q queryer, st Streak) error {
	var last any
	if st.LastLoggedDate != nil {
		last = *st.LastLoggedDate
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO streaks (user_id, pillar_id, category, current_streak, longest_streak, last_logged_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, category) DO UPDATE SET
			current_streak=EXCLUDED.current_streak,
			longest_streak=EXCLUDED.longest_streak,
			last_logged_date=EXCLUDED.last_logged_date,
			updated_at=NOW()
	`, st.UserID, nilIfEmpty(st.PillarID), st.Category, st.CurrentStreak, st.LongestStreak, last)
	if err != nil {
		return fmt.Errorf("upsert streak %s: %w", st.Category, err)
	}
	return nil
}

// UserTx is one user's data inside WithUserLock. Every call runs in the
// same transaction, after the user's advisory lock has been taken.
type UserTx interface {
	ListPillars(ctx context.Context) ([]Pillar, error)
	ListMicroActivities(ctx context.Context, userID string) ([]MicroActivity, error)
	LoggedActivityIDs(ctx context.Context, userID string, from, to time.Time) ([]string, error)
	ReplaceActivityLogs(ctx context.Context, userID string, from, to time.Time, activityIDs []string, loggedAt time.Time) error
	ListStreaks(ctx context.Context, userID string) ([]Streak, error)
	UpsertStreak(ctx context.Context, st Streak) error
}

// WithUserLock runs fn in a transaction serialized per user with
// pg_advisory_xact_lock. The lock is released on commit or rollback.
func (s *PostgresStore) WithUserLock(ctx context.Context, userID string, fn func(UserTx) error) error {
	return runInTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "user:"+userID); err != nil {
			return fmt.Errorf("acquire user lock: %w", err)
		}
		return fn(&lockedTx{tx: tx})
	})
}

type lockedTx struct {
	tx *sql.Tx
}

func (t *lockedTx) ListPillars(ctx context.Context) ([]Pillar, error) {
	return listPillars(ctx, t.tx)
}

func (t *lockedTx) ListMicroActivities(ctx context.Context, userID string) ([]MicroActivity, error) {
	return listMicroActivities(ctx, t.tx, userID)
}

func (t *lockedTx) LoggedActivityIDs(ctx context.Context, userID string, from, to time.Time) ([]string, error) {
	return loggedActivityIDs(ctx, t.tx, userID, from, to)
}

func (t *lockedTx) ReplaceActivityLogs(ctx context.Context, userID string, from, to time.Time, activityIDs []string, loggedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM activity_logs WHERE user_id=$1 AND logged_at >= $2 AND logged_at < $3
	`, userID, from, to)
	if err != nil {
		return fmt.Errorf("clear activity logs: %w", err)
	}
	for _, id := range activityIDs {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO activity_logs (user_id, micro_activity_id, logged_at) VALUES ($1, $2, $3)
		`, userID, id, loggedAt)
		if err != nil {
			return fmt.Errorf("insert activity log: %w", err)
		}
	}
	return nil
}

func (t *lockedTx) ListStreaks(ctx context.Context, userID string) ([]Streak, error) {
	return listStreaks(ctx, t.tx, userID)
}

func (t *lockedTx) UpsertStreak(ctx context.Context, st Streak) error {
	return upsertStreak(ctx, t.tx, st)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
