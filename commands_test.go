package identity_test

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUserHandlerCreatesUser(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	handler := identity.NewRegisterUserHandler(repo)
	ctx := context.Background()

	var resp *identity.RegisterUserResponse
	err := handler.Execute(ctx, identity.RegisterUserMessage{
		AccountID: uuid.New(),
		Email:     "newcomer@example.com",
		Password:  "long-enough-password",
		Role:      string(identity.RoleUser),
		OnResponse: func(r *identity.RegisterUserResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.User)

	user := resp.User
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "long-enough-password", user.PasswordHash)
	// new accounts start unconfirmed with a minted confirmation token
	assert.False(t, user.IsEmailConfirmed())
	require.NotNil(t, user.ConfirmationToken)
	assert.Len(t, *user.ConfirmationToken, identity.TokenLength)

	require.NoError(t, identity.ComparePasswordAndHash("long-enough-password", user.PasswordHash))
}

func TestRegisterUserHandlerHashidDerivesStableID(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	handler := identity.NewRegisterUserHandler(repo)
	ctx := context.Background()

	var resp *identity.RegisterUserResponse
	err := handler.Execute(ctx, identity.RegisterUserMessage{
		AccountID: uuid.New(),
		Email:     "stable@example.com",
		Password:  "long-enough-password",
		UseHashid: true,
		OnResponse: func(r *identity.RegisterUserResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	expected, err := hashid.NewUUID("stable@example.com")
	require.NoError(t, err)
	assert.Equal(t, expected, resp.User.ID)
}

func TestRegisterUserHandlerRejectsInvalidPayload(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	handler := identity.NewRegisterUserHandler(repo)
	ctx := context.Background()

	err := handler.Execute(ctx, identity.RegisterUserMessage{
		AccountID: uuid.New(),
		Email:     "short@example.com",
		Password:  "2short",
	})
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	fields, ok := richErr.Metadata["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "Password")
}

func TestRegisterUserHandlerRejectsDuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	handler := identity.NewRegisterUserHandler(repo)
	ctx := context.Background()

	accountID := uuid.New()
	msg := identity.RegisterUserMessage{
		AccountID: accountID,
		Email:     "twice@example.com",
		Password:  "long-enough-password",
	}
	require.NoError(t, handler.Execute(ctx, msg))

	err := handler.Execute(ctx, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrEmailTaken)
}

func TestInitializePasswordResetRejectsWrongStage(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	machine := identity.NewAccountStateMachine(repo.Users())
	handler := identity.NewInitializePasswordResetHandler(repo, machine)

	err := handler.Execute(context.Background(), identity.InitializePasswordResetMessage{
		Stage:     identity.ResetFinalized,
		AccountID: uuid.New(),
		Email:     "whoever@example.com",
	})
	require.Error(t, err)
}

func TestInitializePasswordResetHidesUnknownEmails(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	mailer := &capturingMailer{}
	machine := identity.NewAccountStateMachine(repo.Users(), identity.WithStateMachineMailer(mailer))
	handler := identity.NewInitializePasswordResetHandler(repo, machine)

	var resp *identity.InitializePasswordResetResponse
	err := handler.Execute(context.Background(), identity.InitializePasswordResetMessage{
		Stage:     identity.ResetInit,
		AccountID: uuid.New(),
		Email:     "nobody@example.com",
		OnResponse: func(r *identity.InitializePasswordResetResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	// indistinguishable from the happy path, no email goes out
	assert.True(t, resp.Success)
	assert.Equal(t, identity.ResetEmailSent, resp.Stage)
	assert.Nil(t, resp.User)
	assert.Empty(t, mailer.sent)
}

func TestPasswordResetRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	mailer := &capturingMailer{}
	machine := identity.NewAccountStateMachine(repo.Users(), identity.WithStateMachineMailer(mailer))
	ctx := context.Background()

	accountID := uuid.New()
	hash, err := identity.HashPassword("original-password")
	require.NoError(t, err)
	user, err := repo.Users().Register(ctx, &identity.User{
		AccountID:    accountID,
		Email:        "roundtrip@example.com",
		PasswordHash: hash,
	})
	require.NoError(t, err)

	initHandler := identity.NewInitializePasswordResetHandler(repo, machine)
	var initResp *identity.InitializePasswordResetResponse
	err = initHandler.Execute(ctx, identity.InitializePasswordResetMessage{
		Stage:     identity.ResetInit,
		AccountID: accountID,
		Email:     "roundtrip@example.com",
		OnResponse: func(r *identity.InitializePasswordResetResponse) {
			initResp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, initResp)
	assert.True(t, initResp.Delivered)
	require.NotNil(t, initResp.User)
	require.NotNil(t, initResp.User.ResetToken)
	require.Len(t, mailer.sent, 1)

	token := *initResp.User.ResetToken

	finalHandler := identity.NewFinalizePasswordResetHandler(repo, machine)
	var finalResp *identity.FinalizePasswordResetResponse
	err = finalHandler.Execute(ctx, identity.FinalizePasswordResetMessage{
		Token:    token,
		Password: "brand-new-password",
		OnResponse: func(r *identity.FinalizePasswordResetResponse) {
			finalResp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, finalResp)
	assert.Equal(t, identity.ResetFinalized, finalResp.Stage)

	// credential changed, token cleared
	current, err := repo.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, current.ResetToken)
	require.NoError(t, identity.ComparePasswordAndHash("brand-new-password", current.PasswordHash))
	require.Error(t, identity.ComparePasswordAndHash("original-password", current.PasswordHash))

	// the token is single use
	err = finalHandler.Execute(ctx, identity.FinalizePasswordResetMessage{
		Token:    token,
		Password: "yet-another-password",
	})
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}

func TestRequestPasswordResetTokenCollision(t *testing.T) {
	db := setupTestDB(t)
	repo := identity.NewRepositoryManager(db)
	ctx := context.Background()

	accountID := uuid.New()
	alice := registerTestUser(t, repo, accountID, "alice@example.com")
	bob := registerTestUser(t, repo, accountID, "bob@example.com")

	// a broken issuer that always mints the same value trips the unique
	// index on the second user
	fixed := identity.TokenIssuerFunc(func() (string, error) {
		return "THE-ONLY-TOKEN-THIS-ISSUER-EVER-MINTS", nil
	})
	machine := identity.NewAccountStateMachine(repo.Users(), identity.WithStateMachineTokenIssuer(fixed))

	_, err := machine.RequestPasswordReset(ctx, identity.ActorRef{}, alice)
	require.NoError(t, err)

	_, err = machine.RequestPasswordReset(ctx, identity.ActorRef{}, bob)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrTokenCollision)
	assert.True(t, identity.IsConflict(err))
}
