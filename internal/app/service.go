package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"triad/api/internal/auth"
	"triad/api/internal/authpw"
	"triad/api/internal/config"
	"triad/api/internal/logging"
	"triad/api/internal/store"
	"triad/api/internal/streak"
	"triad/api/internal/util"
	"triad/api/internal/validation"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	authpw.UserStore
	ListPillars(context.Context) ([]store.Pillar, error)
	ListMicroActivities(context.Context, string) ([]store.MicroActivity, error)
	ReplaceMicroActivities(context.Context, string, []store.MicroActivity) error
	ListActivityLogs(context.Context, string, time.Time, time.Time) ([]store.ActivityLog, error)
	WithUserLock(context.Context, string, func(store.UserTx) error) error
	UpsertCheckIn(context.Context, store.CheckIn) error
	ListCheckInsOn(context.Context, string, time.Time) ([]store.CheckIn, error)
	ListReminderWindows(context.Context, string) ([]store.ReminderWindow, error)
	ReplaceReminderWindows(context.Context, string, []store.ReminderWindow) error
	ListStreaks(context.Context, string) ([]store.Streak, error)
	GetProfile(context.Context, string) (store.Profile, error)
	UpdateProfileName(context.Context, string, string, string) error
	SetAvatarURL(context.Context, string, string) error
	Ping(ctx context.Context) error
}

// SessionStore keeps refresh tokens and the access-token denylist.
// *store.PostgresStore and *session.RedisStore both satisfy it.
type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	// ConsumeRefreshSession revokes the session and returns its owner
	// atomically; store.ErrSessionNotFound when it is not live.
	ConsumeRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type Mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type AvatarUploader interface {
	Upload(ctx context.Context, userID string, data []byte) (string, error)
}

type streakCalculator interface {
	Recalculate(ctx context.Context, userID string, now time.Time) (streak.Summary, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	accounts *authpw.Service
	mailer   Mailer
	avatars  AvatarUploader
	streaks  streakCalculator
	loc      *time.Location
	now      func() time.Time
}

type Options struct {
	// Sessions defaults to the data store.
	Sessions SessionStore
	Mailer   Mailer
	// Avatars may be nil; uploads then answer 503.
	Avatars AvatarUploader
}

func New(cfg config.Config, pg *store.PostgresStore, opts Options) *Service {
	return newService(cfg, pg, opts)
}

func newService(cfg config.Config, ds dataStore, opts Options) *Service {
	loc := cfg.Location()
	sessions := opts.Sessions
	if sessions == nil {
		if fallback, ok := ds.(SessionStore); ok {
			sessions = fallback
		}
	}
	return &Service{
		cfg:      cfg,
		store:    ds,
		sessions: sessions,
		accounts: authpw.NewService(ds),
		mailer:   opts.Mailer,
		avatars:  opts.Avatars,
		streaks:  streak.NewCalculator(ds, loc),
		loc:      loc,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// today returns the configured calendar day and its [start, end) bounds.
func (s *Service) today() (civil.Date, time.Time, time.Time) {
	return s.dayOf(s.now())
}

// dayOf is today for a clock reading the caller already holds, so one
// request never straddles two days.
func (s *Service) dayOf(now time.Time) (civil.Date, time.Time, time.Time) {
	day := streak.Today(now, s.loc)
	from, to := streak.Bounds(day, s.loc)
	return day, from, to
}

func (s *Service) mailConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

type SignUpInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"displayName" validate:"required,max=100"`
}

type SignUpResult struct {
	UserID string
	// DevVerificationToken is set only when no mailer is configured.
	DevVerificationToken string
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (SignUpResult, error) {
	input.Email = strings.TrimSpace(input.Email)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := validation.Struct(input); err != nil {
		return SignUpResult{}, err
	}

	resp, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
	})
	if err != nil {
		return SignUpResult{}, err
	}

	result := SignUpResult{UserID: resp.UserID}
	if !s.mailConfigured() {
		result.DevVerificationToken = resp.VerificationToken
		return result, nil
	}
	if err := s.mailer.SendVerificationEmail(resp.Email, input.DisplayName, s.appLink("/verify-email", resp.VerificationToken)); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("user_id", resp.UserID).Msg("send verification email")
	}
	return result, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.accounts.VerifyEmail(ctx, token)
}

// RequestPasswordReset returns the reset token only when no mailer is
// configured and the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	token, user, err := s.accounts.RequestPasswordReset(ctx, email)
	if err != nil || token == "" {
		return "", err
	}
	if !s.mailConfigured() {
		return token, nil
	}
	if err := s.mailer.SendPasswordResetEmail(user.Email, user.DisplayName, s.appLink("/reset-password", token)); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("user_id", user.ID).Msg("send password reset email")
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.accounts.ResetPassword(ctx, token, newPassword)
}

func (s *Service) appLink(path, token string) string {
	return strings.TrimRight(s.cfg.AppURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	owner, err := s.sessions.ConsumeRefreshSession(ctx, auth.HashToken(refreshToken))
	if errors.Is(err, store.ErrSessionNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("consume refresh session: %w", err)
	}
	user, err := s.userByID(ctx, owner.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// userByID treats a missing account as an invalid token; any other store
// failure is returned as is.
func (s *Service) userByID(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, auth.ErrInvalidToken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.userByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout is best effort: both revocations are attempted and the first
// failure is logged, never returned.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) {
	var errs []error
	if session.JTI != "" {
		errs = append(errs, s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt))
	}
	if refreshToken != "" {
		errs = append(errs, s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)))
	}
	if err := errors.Join(errs...); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", session.UserID).Msg("logout revocation failed")
	}
}
