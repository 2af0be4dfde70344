// Package memory holds process-local repositories for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"guild-access/internal/domain"
)

type pairKey struct {
	guildID string
	userID  string
}

// Store implements the profile, guild role and audit repositories over maps
// guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]domain.UserProfile
	active   map[pairKey]domain.GuildRoleAssignment
	history  []domain.GuildRoleAssignment
	audit    []domain.AuditEntry
}

func NewStore() *Store {
	return &Store{
		profiles: make(map[string]domain.UserProfile),
		active:   make(map[pairKey]domain.GuildRoleAssignment),
	}
}

func (s *Store) PutProfile(p domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Email = strings.ToLower(p.Email)
	s.profiles[p.ID] = p
}

func (s *Store) GetAppRole(_ context.Context, userID string) (domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.RoleNone, domain.ErrNotFound
	}
	return p.AppRole, nil
}

func (s *Store) FindIDByEmail(_ context.Context, email string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, p := range s.profiles {
		if p.Email == email {
			return p.ID, nil
		}
	}
	return "", domain.ErrNotFound
}

func (s *Store) GetActive(_ context.Context, guildID, userID string) (domain.GuildRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[pairKey{guildID, userID}]
	if !ok {
		return domain.GuildRoleAssignment{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListActiveByGuild(_ context.Context, guildID string) ([]domain.GuildRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.GuildRoleAssignment, 0)
	for k, a := range s.active {
		if k.guildID == guildID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListActiveByUser(_ context.Context, userID string) ([]domain.GuildRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.GuildRoleAssignment, 0)
	for k, a := range s.active {
		if k.userID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, a domain.GuildRoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{a.GuildID, a.UserID}
	if _, exists := s.active[k]; exists {
		return domain.ErrConflict
	}
	s.active[k] = a
	return nil
}

func (s *Store) UpdateRole(_ context.Context, a domain.GuildRoleAssignment, keepAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{a.GuildID, a.UserID}
	cur, ok := s.active[k]
	if !ok || cur.ID != a.ID {
		return domain.ErrNotFound
	}
	if keepAdmin && s.otherAdmins(a.GuildID, a.UserID) == 0 {
		return domain.ErrLastGuildAdmin
	}
	a.CreatedAt = cur.CreatedAt
	a.RevokedAt = nil
	s.active[k] = a
	return nil
}

func (s *Store) Revoke(_ context.Context, a domain.GuildRoleAssignment, at time.Time, keepAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{a.GuildID, a.UserID}
	cur, ok := s.active[k]
	if !ok || cur.ID != a.ID {
		return domain.ErrNotFound
	}
	if keepAdmin && s.otherAdmins(a.GuildID, a.UserID) == 0 {
		return domain.ErrLastGuildAdmin
	}
	cur.RevokedAt = &at
	s.history = append(s.history, cur)
	delete(s.active, k)
	return nil
}

// otherAdmins counts active guild admins other than userID. Callers hold mu.
func (s *Store) otherAdmins(guildID, userID string) int {
	n := 0
	for k, a := range s.active {
		if k.guildID == guildID && k.userID != userID && a.Role == domain.RoleGuildAdmin {
			n++
		}
	}
	return n
}

// Revoked returns the soft-revoked rows for the pair, oldest first.
func (s *Store) Revoked(guildID, userID string) []domain.GuildRoleAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.GuildRoleAssignment
	for _, a := range s.history {
		if a.GuildID == guildID && a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Record(_ context.Context, e domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListByGuild(_ context.Context, guildID string, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	return s.listAudit(func(e domain.AuditEntry) bool { return e.GuildID == guildID }, filter), nil
}

func (s *Store) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	return s.listAudit(func(domain.AuditEntry) bool { return true }, filter), nil
}

// listAudit returns matching entries newest first, capped at filter.Limit.
// Entries with equal timestamps keep reverse insertion order.
func (s *Store) listAudit(keep func(domain.AuditEntry) bool, filter domain.AuditFilter) []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	filter = filter.Normalize()
	out := make([]domain.AuditEntry, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		if e := s.audit[i]; keep(e) && filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}
