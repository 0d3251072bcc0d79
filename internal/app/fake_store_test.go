package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"triad/api/internal/catalog"
	"triad/api/internal/store"
)

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

// fakeStore keeps everything in memory. The xxxFn fields override single
// methods for failure cases.
type fakeStore struct {
	mu sync.Mutex

	users      map[string]store.User
	resets     map[string]string
	profiles   map[string]store.Profile
	activities map[string][]store.MicroActivity
	logs       map[string][]store.ActivityLog
	checkIns   map[string]store.CheckIn
	reminders  map[string][]store.ReminderWindow
	streaks    map[string]map[string]store.Streak
	refresh    map[string]refreshEntry
	revoked    map[string]bool

	pingFn         func(context.Context) error
	listStreaksFn  func(context.Context, string) ([]store.Streak, error)
	upsertStreakFn func(context.Context, store.Streak) error

	consumeRefreshFn func(context.Context, string) (store.User, error)
	getUserByIDFn    func(context.Context, string) (store.User, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[string]store.User),
		resets:     make(map[string]string),
		profiles:   make(map[string]store.Profile),
		activities: make(map[string][]store.MicroActivity),
		logs:       make(map[string][]store.ActivityLog),
		checkIns:   make(map[string]store.CheckIn),
		reminders:  make(map[string][]store.ReminderWindow),
		streaks:    make(map[string]map[string]store.Streak),
		refresh:    make(map[string]refreshEntry),
		revoked:    make(map[string]bool),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Users

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, user.Email) {
			return store.ErrConflict
		}
	}
	f.users[user.ID] = user
	f.profiles[user.ID] = store.Profile{ID: user.ID}
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken == token && token != "" {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = hash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

// Sessions

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = refreshEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.consumeRefreshFn != nil {
		return f.consumeRefreshFn(ctx, tokenHash)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, store.ErrSessionNotFound
	}
	delete(f.refresh, tokenHash)
	return store.User{ID: entry.userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// Profiles

func (f *fakeStore) GetProfile(_ context.Context, userID string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) UpdateProfileName(_ context.Context, userID, first, last string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	p.ID, p.FirstName, p.LastName = userID, first, last
	f.profiles[userID] = p
	return nil
}

func (f *fakeStore) SetAvatarURL(_ context.Context, userID, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	p.ID, p.AvatarURL = userID, avatarURL
	f.profiles[userID] = p
	return nil
}

// Activities

func (f *fakeStore) ListPillars(context.Context) ([]store.Pillar, error) {
	var out []store.Pillar
	for _, p := range catalog.Pillars() {
		out = append(out, store.Pillar{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	return out, nil
}

func (f *fakeStore) ListMicroActivities(_ context.Context, userID string) ([]store.MicroActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.MicroActivity(nil), f.activities[userID]...), nil
}

func (f *fakeStore) ReplaceMicroActivities(_ context.Context, userID string, activities []store.MicroActivity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make([]store.MicroActivity, 0, len(activities))
	for _, a := range activities {
		a.ID = uuid.NewString()
		a.UserID = userID
		stored = append(stored, a)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Name < stored[j].Name })
	f.activities[userID] = stored
	return nil
}

func (f *fakeStore) ListActivityLogs(_ context.Context, userID string, from, to time.Time) ([]store.ActivityLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ActivityLog
	for _, l := range f.logs[userID] {
		if !l.LoggedAt.Before(from) && l.LoggedAt.Before(to) {
			out = append(out, l)
		}
	}
	return out, nil
}

// Check-ins

func checkInKey(userID, kind string, date time.Time) string {
	return userID + "|" + kind + "|" + date.Format("2006-01-02")
}

func (f *fakeStore) UpsertCheckIn(_ context.Context, c store.CheckIn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := checkInKey(c.UserID, c.Type, c.Date)
	if existing, ok := f.checkIns[key]; ok {
		c.ID = existing.ID
	} else {
		c.ID = uuid.NewString()
	}
	f.checkIns[key] = c
	return nil
}

func (f *fakeStore) ListCheckInsOn(_ context.Context, userID string, date time.Time) ([]store.CheckIn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.CheckIn
	for _, kind := range []string{store.CheckInMorningIntent, store.CheckInEveningReflection} {
		if c, ok := f.checkIns[checkInKey(userID, kind, date)]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Reminders

func (f *fakeStore) ListReminderWindows(_ context.Context, userID string) ([]store.ReminderWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.ReminderWindow(nil), f.reminders[userID]...), nil
}

func (f *fakeStore) ReplaceReminderWindows(_ context.Context, userID string, windows []store.ReminderWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := append([]store.ReminderWindow(nil), windows...)
	sort.Slice(stored, func(i, j int) bool { return stored[i].StartTime < stored[j].StartTime })
	f.reminders[userID] = stored
	return nil
}

// Streaks

func (f *fakeStore) ListStreaks(ctx context.Context, userID string) ([]store.Streak, error) {
	if f.listStreaksFn != nil {
		return f.listStreaksFn(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Streak
	for _, row := range f.streaks[userID] {
		out = append(out, row)
	}
	return out, nil
}

// WithUserLock applies staged writes only when fn succeeds, like the
// transaction it stands in for.
func (f *fakeStore) WithUserLock(ctx context.Context, userID string, fn func(store.UserTx) error) error {
	tx := &fakeTx{f: f, streaks: make(map[string]store.Streak)}
	if err := fn(tx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx.logsReplaced {
		kept := f.logs[userID][:0:0]
		for _, l := range f.logs[userID] {
			if l.LoggedAt.Before(tx.from) || !l.LoggedAt.Before(tx.to) {
				kept = append(kept, l)
			}
		}
		f.logs[userID] = append(kept, tx.newLogs...)
	}
	if f.streaks[userID] == nil {
		f.streaks[userID] = make(map[string]store.Streak)
	}
	for category, row := range tx.streaks {
		f.streaks[userID][category] = row
	}
	return nil
}

type fakeTx struct {
	f            *fakeStore
	streaks      map[string]store.Streak
	logsReplaced bool
	from, to     time.Time
	newLogs      []store.ActivityLog
}

func (t *fakeTx) ListPillars(ctx context.Context) ([]store.Pillar, error) {
	return t.f.ListPillars(ctx)
}

func (t *fakeTx) ListMicroActivities(ctx context.Context, userID string) ([]store.MicroActivity, error) {
	return t.f.ListMicroActivities(ctx, userID)
}

func (t *fakeTx) LoggedActivityIDs(ctx context.Context, userID string, from, to time.Time) ([]string, error) {
	logs, err := t.f.ListActivityLogs(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(logs))
	for _, l := range logs {
		ids = append(ids, l.MicroActivityID)
	}
	return ids, nil
}

func (t *fakeTx) ReplaceActivityLogs(_ context.Context, userID string, from, to time.Time, activityIDs []string, loggedAt time.Time) error {
	t.logsReplaced, t.from, t.to = true, from, to
	for _, id := range activityIDs {
		t.newLogs = append(t.newLogs, store.ActivityLog{ID: uuid.NewString(), UserID: userID, MicroActivityID: id, LoggedAt: loggedAt})
	}
	return nil
}

func (t *fakeTx) ListStreaks(ctx context.Context, userID string) ([]store.Streak, error) {
	return t.f.ListStreaks(ctx, userID)
}

func (t *fakeTx) UpsertStreak(ctx context.Context, st store.Streak) error {
	if t.f.upsertStreakFn != nil {
		if err := t.f.upsertStreakFn(ctx, st); err != nil {
			return err
		}
	}
	t.streaks[st.Category] = st
	return nil
}

type fakeMailer struct {
	configured   bool
	verification []string
	resets       []string
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendVerificationEmail(to, _, link string) error {
	m.verification = append(m.verification, to+" "+link)
	return nil
}

func (m *fakeMailer) SendPasswordResetEmail(to, _, link string) error {
	m.resets = append(m.resets, to+" "+link)
	return nil
}

type fakeAvatars struct {
	uploads int
	err     error
}

func (a *fakeAvatars) Upload(_ context.Context, userID string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.uploads++
	return "https://cdn.example.test/avatars/" + userID + "/a.png", nil
}
