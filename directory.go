package identity

import (
	"context"

	"github.com/google/uuid"
)

// Directory is the read-side contract over the identity store. Lookups
// return a typed not found error for misses (check with
// repository.IsRecordNotFound or goerrors.IsNotFound); they never panic
// and never treat a miss as an internal fault.
//
// Scoped and unscoped lookups are separate operations on purpose: the
// unscoped variants cross account boundaries and belong in trusted
// internal flows only.
type Directory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByIDInAccount(ctx context.Context, accountID, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, accountID uuid.UUID, email string) (*User, error)
	FindByEmailAny(ctx context.Context, email string) (*User, error)
	FindByConfirmationToken(ctx context.Context, token string) (*User, error)
	FindByResetToken(ctx context.Context, token string) (*User, error)
	GetUserInfo(ctx context.Context, userID uuid.UUID) (*User, error)
}

type directory struct {
	repo   RepositoryManager
	logger Logger
}

// DirectoryOption customizes Directory construction.
type DirectoryOption func(*directory)

// WithDirectoryLogger overrides the directory logger.
func WithDirectoryLogger(logger Logger) DirectoryOption {
	return func(d *directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDirectory builds the lookup surface on top of the repositories.
func NewDirectory(repo RepositoryManager, opts ...DirectoryOption) Directory {
	d := &directory{
		repo:   repo,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	return d
}

func (d *directory) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return d.repo.Users().FindByID(ctx, id)
}

func (d *directory) FindByIDInAccount(ctx context.Context, accountID, id uuid.UUID) (*User, error) {
	return d.repo.Users().FindByIDInAccount(ctx, accountID, id)
}

func (d *directory) FindByEmail(ctx context.Context, accountID uuid.UUID, email string) (*User, error) {
	return d.repo.Users().FindByEmail(ctx, accountID, email)
}

func (d *directory) FindByEmailAny(ctx context.Context, email string) (*User, error) {
	return d.repo.Users().FindByEmailAny(ctx, email)
}

func (d *directory) FindByConfirmationToken(ctx context.Context, token string) (*User, error) {
	return d.repo.Users().FindByConfirmationToken(ctx, token)
}

func (d *directory) FindByResetToken(ctx context.Context, token string) (*User, error) {
	return d.repo.Users().FindByResetToken(ctx, token)
}

// GetUserInfo returns the user with Profile and Settings eagerly attached,
// provisioning either child resource if it does not exist yet. This is the
// only lookup that guarantees both children are present afterwards.
func (d *directory) GetUserInfo(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := d.repo.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile, err := d.repo.Profiles().GetOrCreateForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	settings, err := d.repo.Settings().GetOrCreateForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// detach the back references before embedding to keep the payload flat
	profile.User = nil
	settings.User = nil

	user.Profile = profile
	user.Settings = settings

	return user, nil
}
