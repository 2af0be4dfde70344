package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-access/internal/domain"
)

func assignment(id string, role domain.Role) domain.GuildRoleAssignment {
	return domain.GuildRoleAssignment{ID: id, GuildID: "g1", UserID: "u1", Role: role, CreatedAt: time.Now().UTC()}
}

func TestStore_InsertRevokeInsert(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	officer := assignment("a1", domain.RoleOfficer)
	require.NoError(t, s.Insert(ctx, officer))
	require.NoError(t, s.Revoke(ctx, officer, time.Now().UTC(), false))
	require.NoError(t, s.Insert(ctx, assignment("a2", domain.RoleRaider)))

	got, err := s.GetActive(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.ID)
	assert.Equal(t, domain.RoleRaider, got.Role)

	revoked := s.Revoked("g1", "u1")
	require.Len(t, revoked, 1)
	assert.Equal(t, "a1", revoked[0].ID)
	assert.NotNil(t, revoked[0].RevokedAt)
}

func TestStore_SecondActiveRowConflicts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, assignment("a1", domain.RoleViewer)))
	assert.ErrorIs(t, s.Insert(ctx, assignment("a2", domain.RoleMember)), domain.ErrConflict)
}

func TestStore_ConcurrentInsertsLeaveOneActive(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Insert(ctx, assignment(fmt.Sprintf("a%d", i), domain.RoleMember)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	rows, err := s.ListActiveByGuild(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStore_UpdateAndRevokeRequireCurrentRow(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, assignment("a1", domain.RoleViewer)))

	assert.ErrorIs(t, s.UpdateRole(ctx, assignment("stale", domain.RoleOfficer), false), domain.ErrNotFound)
	assert.ErrorIs(t, s.Revoke(ctx, assignment("stale", domain.RoleViewer), time.Now(), false), domain.ErrNotFound)

	require.NoError(t, s.UpdateRole(ctx, assignment("a1", domain.RoleOfficer), false))
	got, err := s.GetActive(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOfficer, got.Role)
}

func TestStore_Profiles(t *testing.T) {
	s := NewStore()
	s.PutProfile(domain.UserProfile{ID: "root", Email: "Root@Example.com", AppRole: domain.RoleSuperAdmin})

	role, err := s.GetAppRole(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSuperAdmin, role)

	_, err = s.GetAppRole(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	id, err := s.FindIDByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, "root", id)
}

func TestStore_KeepAdminGuard(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	admins := map[string]domain.GuildRoleAssignment{}
	for _, u := range []string{"u1", "u2"} {
		a := assignment("a-"+u, domain.RoleGuildAdmin)
		a.UserID = u
		require.NoError(t, s.Insert(ctx, a))
		admins[u] = a
	}

	demoted := admins["u1"]
	demoted.Role = domain.RoleOfficer
	require.NoError(t, s.UpdateRole(ctx, demoted, true))

	assert.ErrorIs(t, s.Revoke(ctx, admins["u2"], time.Now(), true), domain.ErrLastGuildAdmin)
	last := admins["u2"]
	last.Role = domain.RoleMember
	assert.ErrorIs(t, s.UpdateRole(ctx, last, true), domain.ErrLastGuildAdmin)

	got, err := s.GetActive(ctx, "g1", "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGuildAdmin, got.Role)
}

func TestStore_ConcurrentAdminDemotionsKeepOneAdmin(t *testing.T) {
	for run := 0; run < 50; run++ {
		s := NewStore()
		ctx := context.Background()
		var admins []domain.GuildRoleAssignment
		for _, u := range []string{"u1", "u2"} {
			a := assignment("a-"+u, domain.RoleGuildAdmin)
			a.UserID = u
			require.NoError(t, s.Insert(ctx, a))
			a.Role = domain.RoleOfficer
			admins = append(admins, a)
		}

		var wg sync.WaitGroup
		for _, a := range admins {
			wg.Add(1)
			go func(a domain.GuildRoleAssignment) {
				defer wg.Done()
				_ = s.UpdateRole(ctx, a, true)
			}(a)
		}
		wg.Wait()

		rows, err := s.ListActiveByGuild(ctx, "g1")
		require.NoError(t, err)
		remaining := 0
		for _, r := range rows {
			if r.Role == domain.RoleGuildAdmin {
				remaining++
			}
		}
		require.Equal(t, 1, remaining, "run %d", run)
	}
}

func TestStore_AuditListing(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		action := domain.AuditRoleAssigned
		if i%2 == 1 {
			action = domain.AuditRoleRevoked
		}
		require.NoError(t, s.Record(ctx, domain.AuditEntry{
			ID: fmt.Sprintf("e%d", i), Action: action, GuildID: "g1", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.Record(ctx, domain.AuditEntry{ID: "other", GuildID: "g2", CreatedAt: base}))

	got, err := s.ListByGuild(ctx, "g1", domain.AuditFilter{Actions: []domain.AuditAction{domain.AuditRoleRevoked}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e3", got[0].ID)
	assert.Equal(t, "e1", got[1].ID)

	got, err = s.ListByGuild(ctx, "g1", domain.AuditFilter{Before: base.Add(3 * time.Minute), Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[0].ID)

	all, err := s.List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
}
