package identity

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserPatch is a sparse, validated set of field changes. Each state
// transition builds a patch touching only the columns it is allowed to
// modify; everything else stays untouched.
type UserPatch struct {
	SetPasswordHash     *string
	SetRole             *UserRole
	SetEmailConfirmedAt *time.Time

	SetConfirmationToken   *string
	ClearConfirmationToken bool

	SetResetToken   *string
	ClearResetToken bool

	SetDisabledAt   *time.Time
	ClearDisabledAt bool

	SetArchivedAt *time.Time
}

// Validate rejects empty patches and out-of-enum roles before any
// persistence call is made.
func (p UserPatch) Validate() error {
	if p.isEmpty() {
		return goerrors.New("user patch has no field changes", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}
	if p.SetRole != nil && !p.SetRole.IsValid() {
		return ErrInvalidRole.WithMetadata(map[string]any{"role": string(*p.SetRole)})
	}
	return nil
}

func (p UserPatch) isEmpty() bool {
	return p.SetPasswordHash == nil &&
		p.SetRole == nil &&
		p.SetEmailConfirmedAt == nil &&
		p.SetConfirmationToken == nil &&
		!p.ClearConfirmationToken &&
		p.SetResetToken == nil &&
		!p.ClearResetToken &&
		p.SetDisabledAt == nil &&
		!p.ClearDisabledAt &&
		p.SetArchivedAt == nil
}

func (p UserPatch) apply(q *bun.UpdateQuery) *bun.UpdateQuery {
	if p.SetPasswordHash != nil {
		q = q.Set("password_hash = ?", *p.SetPasswordHash)
	}
	if p.SetRole != nil {
		q = q.Set("user_role = ?", string(*p.SetRole))
	}
	if p.SetEmailConfirmedAt != nil {
		q = q.Set("email_confirmed_at = ?", *p.SetEmailConfirmedAt)
	}
	if p.SetConfirmationToken != nil {
		q = q.Set("confirmation_token = ?", *p.SetConfirmationToken)
	} else if p.ClearConfirmationToken {
		q = q.Set("confirmation_token = NULL")
	}
	if p.SetResetToken != nil {
		q = q.Set("reset_token = ?", *p.SetResetToken)
	} else if p.ClearResetToken {
		q = q.Set("reset_token = NULL")
	}
	if p.SetDisabledAt != nil {
		q = q.Set("disabled_at = ?", *p.SetDisabledAt)
	} else if p.ClearDisabledAt {
		q = q.Set("disabled_at = NULL")
	}
	if p.SetArchivedAt != nil {
		q = q.Set("archived_at = ?", *p.SetArchivedAt)
	}
	return q
}

type Users interface {
	repository.Repository[*User]

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	FindByIDInAccount(ctx context.Context, accountID, id uuid.UUID) (*User, error)
	FindByIDInAccountTx(ctx context.Context, tx bun.IDB, accountID, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, accountID uuid.UUID, email string) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, email string) (*User, error)
	FindByEmailAny(ctx context.Context, email string) (*User, error)
	FindByEmailAnyTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	FindByConfirmationToken(ctx context.Context, token string) (*User, error)
	FindByConfirmationTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error)
	FindByResetToken(ctx context.Context, token string) (*User, error)
	FindByResetTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error)

	ApplyPatch(ctx context.Context, user *User, patch UserPatch) (*User, error)
	ApplyPatchTx(ctx context.Context, tx bun.IDB, user *User, patch UserPatch) (*User, error)
	ConsumeResetToken(ctx context.Context, token, passwordHash string) (*User, error)
	ConsumeResetTokenTx(ctx context.Context, tx bun.IDB, token, passwordHash string) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)

	record, err := a.Repository.CreateTx(ctx, tx, user)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrEmailTaken.WithMetadata(map[string]any{
				"account_id": user.AccountID.String(),
				"email":      user.Email,
			})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	return a.findOneTx(ctx, tx, map[string]any{"id": id.String()}, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id = ?", id)
	})
}

func (a *users) FindByIDInAccount(ctx context.Context, accountID, id uuid.UUID) (*User, error) {
	return a.FindByIDInAccountTx(ctx, a.db, accountID, id)
}

func (a *users) FindByIDInAccountTx(ctx context.Context, tx bun.IDB, accountID, id uuid.UUID) (*User, error) {
	meta := map[string]any{"id": id.String(), "account_id": accountID.String()}
	return a.findOneTx(ctx, tx, meta, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where("?TableAlias.id = ?", id).
			Where("?TableAlias.account_id = ?", accountID)
	})
}

func (a *users) FindByEmail(ctx context.Context, accountID uuid.UUID, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, accountID, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, email string) (*User, error) {
	email = NormalizeEmail(email)
	meta := map[string]any{"email": email, "account_id": accountID.String()}
	return a.findOneTx(ctx, tx, meta, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where("?TableAlias.email = ?", email).
			Where("?TableAlias.account_id = ?", accountID)
	})
}

// FindByEmailAny looks up an email across every account. Reserved for
// trusted internal flows; tenant-facing callers want FindByEmail.
func (a *users) FindByEmailAny(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailAnyTx(ctx, a.db, email)
}

func (a *users) FindByEmailAnyTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	email = NormalizeEmail(email)
	return a.findOneTx(ctx, tx, map[string]any{"email": email}, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.email = ?", email)
	})
}

func (a *users) FindByConfirmationToken(ctx context.Context, token string) (*User, error) {
	return a.FindByConfirmationTokenTx(ctx, a.db, token)
}

func (a *users) FindByConfirmationTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error) {
	return a.findOneTx(ctx, tx, map[string]any{"confirmation_token": token}, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.confirmation_token = ?", token)
	})
}

func (a *users) FindByResetToken(ctx context.Context, token string) (*User, error) {
	return a.FindByResetTokenTx(ctx, a.db, token)
}

func (a *users) FindByResetTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error) {
	return a.findOneTx(ctx, tx, map[string]any{"reset_token": token}, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.reset_token = ?", token)
	})
}

func (a *users) ApplyPatch(ctx context.Context, user *User, patch UserPatch) (*User, error) {
	return a.ApplyPatchTx(ctx, a.db, user, patch)
}

// ApplyPatchTx persists a validated partial update guarded by the version
// column. A guard miss on an existing row means we lost a concurrent write
// and the caller gets ErrStaleRecord, never a silent overwrite.
func (a *users) ApplyPatchTx(ctx context.Context, tx bun.IDB, user *User, patch UserPatch) (*User, error) {
	if user == nil {
		return nil, goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	if err := patch.Validate(); err != nil {
		return nil, err
	}

	q := tx.NewUpdate().
		Model((*User)(nil)).
		Set("version = version + 1").
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("?TableAlias.id = ?", user.ID).
		Where("?TableAlias.version = ?", user.Version)

	q = patch.apply(q)

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		current, ferr := a.FindByIDTx(ctx, tx, user.ID)
		if ferr != nil {
			return nil, ferr
		}
		return nil, ErrStaleRecord.WithMetadata(map[string]any{
			"id":               user.ID.String(),
			"expected_version": user.Version,
			"current_version":  current.Version,
		})
	}

	return a.FindByIDTx(ctx, tx, user.ID)
}

func (a *users) ConsumeResetToken(ctx context.Context, token, passwordHash string) (*User, error) {
	return a.ConsumeResetTokenTx(ctx, a.db, token, passwordHash)
}

// ConsumeResetTokenTx sets the credential and clears the reset token in a
// single statement keyed on the token value itself. A second consumer
// matches zero rows and gets a not found error: single-use by clearing.
func (a *users) ConsumeResetTokenTx(ctx context.Context, tx bun.IDB, token, passwordHash string) (*User, error) {
	user, err := a.FindByResetTokenTx(ctx, tx, token)
	if err != nil {
		return nil, err
	}

	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("reset_token = NULL").
		Set("version = version + 1").
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("?TableAlias.id = ?", user.ID).
		Where("?TableAlias.reset_token = ?", token).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"reset_token": token})
	}

	return a.FindByIDTx(ctx, tx, user.ID)
}

func (a *users) findOneTx(ctx context.Context, tx bun.IDB, meta map[string]any, criteria func(*bun.SelectQuery) *bun.SelectQuery) (*User, error) {
	record := &User{}
	q := tx.NewSelect().Model(record)
	q = criteria(q)

	err := q.Limit(1).Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(meta)
		}
		return nil, err
	}

	return record, nil
}

// NormalizeEmail lowercases and trims an email address so account-scoped
// uniqueness does not depend on caller casing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)

	if record.Role == "" {
		record.Role = RoleUser
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
