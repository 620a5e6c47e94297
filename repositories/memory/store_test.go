package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
)

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	user := models.NewUser("a@example.com", "hash")
	require.NoError(t, repos.Users.Create(ctx, user))

	err := repos.Users.Create(ctx, models.NewUser("a@example.com", "other"))
	assert.True(t, errors.Is(err, repositories.ErrDuplicate))

	got, err := repos.Users.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repos.Users.GetByID(ctx, uuid.New())
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
}

func TestStore_RolePermissionGraph(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	user := models.NewUser("a@example.com", "hash")
	require.NoError(t, repos.Users.Create(ctx, user))

	editor := models.NewRole("editor", "")
	viewer := models.NewRole("viewer", "")
	require.NoError(t, repos.Roles.Create(ctx, editor))
	require.NoError(t, repos.Roles.Create(ctx, viewer))

	read := models.NewPermission("", "doc", "read", "")
	write := models.NewPermission("", "doc", "write", "")
	require.NoError(t, repos.Permissions.Create(ctx, read))
	require.NoError(t, repos.Permissions.Create(ctx, write))

	require.NoError(t, repos.Roles.GrantPermission(ctx, editor.ID, read.ID))
	require.NoError(t, repos.Roles.GrantPermission(ctx, editor.ID, write.ID))
	require.NoError(t, repos.Roles.GrantPermission(ctx, viewer.ID, read.ID))
	require.NoError(t, repos.Roles.GrantPermission(ctx, viewer.ID, read.ID))

	require.NoError(t, repos.Roles.AssignToUser(ctx, user.ID, editor.ID))
	require.NoError(t, repos.Roles.AssignToUser(ctx, user.ID, viewer.ID))

	roles, err := repos.Roles.RolesForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "editor", roles[0].Name)

	perms, err := repos.Permissions.ForRoles(ctx, []uuid.UUID{editor.ID, viewer.ID})
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, "doc:read", perms[0].Name)

	members, err := repos.Roles.UsersWithRole(ctx, viewer.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{user.ID}, members)

	require.NoError(t, repos.Roles.RemoveFromUser(ctx, user.ID, viewer.ID))
	err = repos.Roles.RemoveFromUser(ctx, user.ID, viewer.ID)
	assert.True(t, errors.Is(err, repositories.ErrNotFound))

	err = repos.Roles.AssignToUser(ctx, uuid.New(), editor.ID)
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
}

func TestStore_RefreshTokens(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()
	userID := uuid.New()
	now := time.Now()

	require.NoError(t, repos.RefreshTokens.Replace(ctx, models.NewRefreshToken(userID, "first", now.Add(time.Hour))))
	require.NoError(t, repos.RefreshTokens.Replace(ctx, models.NewRefreshToken(userID, "second", now.Add(time.Hour))))

	_, err := repos.RefreshTokens.FindByUserAndToken(ctx, userID, "first")
	assert.True(t, errors.Is(err, repositories.ErrNotFound))

	rt, err := repos.RefreshTokens.FindByUserAndToken(ctx, userID, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", rt.Token)

	n, err := repos.RefreshTokens.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.NoError(t, repos.RefreshTokens.DeleteByUser(ctx, userID))
}

func TestStore_SeedRoles(t *testing.T) {
	s := NewStore()
	s.SeedRoles(models.SuperAdminRole)
	s.SeedRoles(models.SuperAdminRole)

	roles, err := s.Repositories().Roles.List(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.True(t, roles[0].IsSuperAdmin())
}
