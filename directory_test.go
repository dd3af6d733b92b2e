package identity_test

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryFindByIDMissIsNotFound(t *testing.T) {
	db := setupTestDB(t)
	dir := identity.NewDirectory(identity.NewRepositoryManager(db))

	_, err := dir.FindByID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}

func TestDirectoryScopedLookups(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	dir := identity.NewDirectory(repo)
	ctx := context.Background()

	accountA := uuid.New()
	accountB := uuid.New()
	alpha := registerTestUser(t, repo, accountA, "alpha@example.com")
	registerTestUser(t, repo, accountB, "alpha@example.com")

	found, err := dir.FindByEmail(ctx, accountA, "alpha@example.com")
	require.NoError(t, err)
	assert.Equal(t, alpha.ID, found.ID)

	found, err = dir.FindByIDInAccount(ctx, accountA, alpha.ID)
	require.NoError(t, err)
	assert.Equal(t, alpha.ID, found.ID)

	_, err = dir.FindByIDInAccount(ctx, accountB, alpha.ID)
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}

func TestDirectoryGetUserInfoProvisionsChildren(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	dir := identity.NewDirectory(repo)
	ctx := context.Background()

	user := registerTestUser(t, repo, uuid.New(), "info@example.com")

	info, err := dir.GetUserInfo(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, info.Profile)
	require.NotNil(t, info.Settings)
	assert.Equal(t, user.ID, info.Profile.UserID)
	assert.Equal(t, user.ID, info.Settings.UserID)
	assert.Nil(t, info.Profile.User)
	assert.Nil(t, info.Settings.User)

	// a second call reuses the provisioned rows
	again, err := dir.GetUserInfo(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, info.Profile.ID, again.Profile.ID)
	assert.Equal(t, info.Settings.ID, again.Settings.ID)
}

func TestDirectoryGetUserInfoMissIsNotFound(t *testing.T) {
	db := setupTestDB(t)
	dir := identity.NewDirectory(identity.NewRepositoryManager(db))

	_, err := dir.GetUserInfo(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))

	// a failed lookup must not leave orphaned child rows behind
	ctx := context.Background()
	count, err := db.NewSelect().Model((*identity.Profile)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDirectoryTokenLookups(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	dir := identity.NewDirectory(repo)
	ctx := context.Background()

	user := registerTestUser(t, repo, uuid.New(), "lookup@example.com")

	confirmation := "DIRCONFIRMTOKEN"
	_, err := repo.Users().ApplyPatch(ctx, user, identity.UserPatch{
		SetConfirmationToken: &confirmation,
	})
	require.NoError(t, err)

	found, err := dir.FindByConfirmationToken(ctx, confirmation)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = dir.FindByResetToken(ctx, "never-minted")
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}
