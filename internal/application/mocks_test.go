package application

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"guild-access/internal/domain"
)

type profileRepoMock struct{ mock.Mock }

func (m *profileRepoMock) GetAppRole(ctx context.Context, userID string) (domain.Role, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.Role), args.Error(1)
}

func (m *profileRepoMock) FindIDByEmail(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

type guildRoleRepoMock struct{ mock.Mock }

func (m *guildRoleRepoMock) GetActive(ctx context.Context, guildID, userID string) (domain.GuildRoleAssignment, error) {
	args := m.Called(ctx, guildID, userID)
	return args.Get(0).(domain.GuildRoleAssignment), args.Error(1)
}

func (m *guildRoleRepoMock) ListActiveByGuild(ctx context.Context, guildID string) ([]domain.GuildRoleAssignment, error) {
	args := m.Called(ctx, guildID)
	return args.Get(0).([]domain.GuildRoleAssignment), args.Error(1)
}

func (m *guildRoleRepoMock) ListActiveByUser(ctx context.Context, userID string) ([]domain.GuildRoleAssignment, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.GuildRoleAssignment), args.Error(1)
}

func (m *guildRoleRepoMock) Insert(ctx context.Context, a domain.GuildRoleAssignment) error {
	return m.Called(ctx, a).Error(0)
}

func (m *guildRoleRepoMock) UpdateRole(ctx context.Context, a domain.GuildRoleAssignment, keepAdmin bool) error {
	return m.Called(ctx, a, keepAdmin).Error(0)
}

func (m *guildRoleRepoMock) Revoke(ctx context.Context, a domain.GuildRoleAssignment, at time.Time, keepAdmin bool) error {
	return m.Called(ctx, a, at, keepAdmin).Error(0)
}

type auditRepoMock struct{ mock.Mock }

func (m *auditRepoMock) Record(ctx context.Context, entry domain.AuditEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *auditRepoMock) ListByGuild(ctx context.Context, guildID string, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	args := m.Called(ctx, guildID, filter)
	return args.Get(0).([]domain.AuditEntry), args.Error(1)
}

func (m *auditRepoMock) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.AuditEntry), args.Error(1)
}

type identityMock struct{ mock.Mock }

func (m *identityMock) SetAppRoleHint(ctx context.Context, userID string, role domain.Role) error {
	return m.Called(ctx, userID, role).Error(0)
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Info(_ context.Context, msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Error(_ context.Context, msg string, args ...any) { l.add("error", msg, args) }
func (l *recordingLogger) Warn(_ context.Context, msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Debug(_ context.Context, msg string, args ...any) { l.add("debug", msg, args) }

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type fixture struct {
	profiles *profileRepoMock
	roles    *guildRoleRepoMock
	audit    *auditRepoMock
	identity *identityMock
	logger   *recordingLogger
	store    *RoleStore
	authz    *Authorizer
	sync     *RoleSynchronizer
	svc      *AccessService
}

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		profiles: new(profileRepoMock),
		roles:    new(guildRoleRepoMock),
		audit:    new(auditRepoMock),
		identity: new(identityMock),
		logger:   &recordingLogger{},
	}
	f.store = NewRoleStore(f.profiles, f.roles, f.logger)
	f.store.now = func() time.Time { return fixedNow }
	f.store.newID = func() string { return "assignment-1" }
	f.authz = NewAuthorizer(f.store, f.logger)
	f.sync = NewRoleSynchronizer(f.store, f.profiles, f.identity, domain.StandardPriorities(), f.logger)
	f.svc = NewAccessService(f.authz, f.store, f.profiles, f.audit, f.sync, f.logger)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) assertExpectations(t mock.TestingT) {
	f.profiles.AssertExpectations(t)
	f.roles.AssertExpectations(t)
	f.audit.AssertExpectations(t)
	f.identity.AssertExpectations(t)
}
