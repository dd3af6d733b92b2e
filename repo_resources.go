package identity

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// ResourcePatch is a sparse, validated set of field changes for a child
// resource. Validate runs before any persistence call; apply restricts the
// update to the enumerated columns.
type ResourcePatch interface {
	Validate() error
	apply(q *bun.UpdateQuery) *bun.UpdateQuery
}

// Resources is the storage contract for a 1:1 child resource keyed by user
// identity (Profile, Settings). GetOrCreateForUser guarantees exactly one
// row per user even under concurrent first access.
type Resources[T any] interface {
	repository.Repository[T]

	GetForUser(ctx context.Context, userID uuid.UUID) (T, error)
	GetForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (T, error)
	GetOrCreateForUser(ctx context.Context, userID uuid.UUID) (T, error)
	GetOrCreateForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (T, error)
	PatchForUser(ctx context.Context, userID uuid.UUID, patch ResourcePatch) (T, error)
	PatchForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, patch ResourcePatch) (T, error)
	Remove(ctx context.Context, record T) error
	RemoveTx(ctx context.Context, tx bun.IDB, record T) error
}

// ResourceHandlers adapts a concrete child-resource model to the generic
// repository, mirroring repository.ModelHandlers.
type ResourceHandlers[T any] struct {
	Kind       string
	NewRecord  func() T
	NewDefault func(userID uuid.UUID) T
	GetID      func(T) uuid.UUID
	SetID      func(T, uuid.UUID)
}

type resources[T any] struct {
	repository.Repository[T]
	db       *bun.DB
	handlers ResourceHandlers[T]
}

func NewResourcesRepository[T any](db *bun.DB, handlers ResourceHandlers[T]) Resources[T] {
	repo := repository.NewRepository[T](db, repository.ModelHandlers[T]{
		NewRecord: handlers.NewRecord,
		GetID:     handlers.GetID,
		SetID:     handlers.SetID,
	})

	return &resources[T]{
		Repository: repo,
		db:         db,
		handlers:   handlers,
	}
}

// NewProfilesRepository returns the Profiles storage collaborator.
func NewProfilesRepository(db *bun.DB) Resources[*Profile] {
	return NewResourcesRepository(db, ResourceHandlers[*Profile]{
		Kind:       "profile",
		NewRecord:  func() *Profile { return &Profile{} },
		NewDefault: defaultProfile,
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})
}

// NewSettingsRepository returns the Settings storage collaborator.
func NewSettingsRepository(db *bun.DB) Resources[*Settings] {
	return NewResourcesRepository(db, ResourceHandlers[*Settings]{
		Kind:       "settings",
		NewRecord:  func() *Settings { return &Settings{} },
		NewDefault: defaultSettings,
		GetID: func(s *Settings) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Settings, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})
}

func (r *resources[T]) GetForUser(ctx context.Context, userID uuid.UUID) (T, error) {
	return r.GetForUserTx(ctx, r.db, userID)
}

func (r *resources[T]) GetForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (T, error) {
	record := r.handlers.NewRecord()

	err := tx.NewSelect().
		Model(record).
		Relation("User").
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		var zero T
		if repository.IsRecordNotFound(err) {
			return zero, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"kind":    r.handlers.Kind,
				"user_id": userID.String(),
			})
		}
		return zero, err
	}

	return record, nil
}

func (r *resources[T]) GetOrCreateForUser(ctx context.Context, userID uuid.UUID) (T, error) {
	return r.GetOrCreateForUserTx(ctx, r.db, userID)
}

// GetOrCreateForUserTx reads the row for userID and provisions a default
// one if absent. Read-then-insert is not atomic: when two first-accesses
// race, the unique index on user_id rejects the second insert and we fall
// back to re-reading the winner's row. The race never surfaces as an error.
func (r *resources[T]) GetOrCreateForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (T, error) {
	record, err := r.GetForUserTx(ctx, tx, userID)
	if err == nil {
		return record, nil
	}

	var zero T
	if !repository.IsRecordNotFound(err) {
		return zero, err
	}

	fresh := r.handlers.NewDefault(userID)
	if _, cerr := r.Repository.CreateTx(ctx, tx, fresh); cerr != nil {
		if !IsUniqueViolation(cerr) {
			return zero, cerr
		}
		// lost the provisioning race, the row exists now
	}

	return r.GetForUserTx(ctx, tx, userID)
}

func (r *resources[T]) PatchForUser(ctx context.Context, userID uuid.UUID, patch ResourcePatch) (T, error) {
	return r.PatchForUserTx(ctx, r.db, userID, patch)
}

// PatchForUserTx composes get-or-create with a validated partial update.
func (r *resources[T]) PatchForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, patch ResourcePatch) (T, error) {
	var zero T

	if patch == nil {
		return zero, goerrors.New("patch is required", goerrors.CategoryBadInput)
	}

	if err := patch.Validate(); err != nil {
		return zero, validationError("invalid "+r.handlers.Kind+" attributes", err)
	}

	record, err := r.GetOrCreateForUserTx(ctx, tx, userID)
	if err != nil {
		return zero, err
	}

	q := tx.NewUpdate().
		Model(record).
		WherePK().
		Set("updated_at = CURRENT_TIMESTAMP")
	q = patch.apply(q)

	if _, err := q.Exec(ctx); err != nil {
		return zero, err
	}

	return r.GetForUserTx(ctx, tx, userID)
}

func (r *resources[T]) Remove(ctx context.Context, record T) error {
	return r.RemoveTx(ctx, r.db, record)
}

// RemoveTx deletes a previously fetched row. Removing an already-absent
// resource is the caller's bug, not a supported idempotent path.
func (r *resources[T]) RemoveTx(ctx context.Context, tx bun.IDB, record T) error {
	_, err := tx.NewDelete().
		Model(record).
		WherePK().
		Exec(ctx)
	return err
}

// ProfilePatch enumerates the Profile fields callers may change.
type ProfilePatch struct {
	DisplayName *string
	Bio         *string
	AvatarURL   *string
	Phone       *string
}

func (p ProfilePatch) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.DisplayName, validation.Length(1, 200)),
		validation.Field(&p.Bio, validation.Length(0, 2000)),
		validation.Field(&p.AvatarURL, is.URL),
		validation.Field(&p.Phone, validation.By(ValidatePhoneNumber)),
	)
}

func (p ProfilePatch) apply(q *bun.UpdateQuery) *bun.UpdateQuery {
	if p.DisplayName != nil {
		q = q.Set("display_name = ?", *p.DisplayName)
	}
	if p.Bio != nil {
		q = q.Set("bio = ?", *p.Bio)
	}
	if p.AvatarURL != nil {
		q = q.Set("avatar_url = ?", *p.AvatarURL)
	}
	if p.Phone != nil {
		q = q.Set("phone_number = ?", *p.Phone)
	}
	return q
}

// SettingsPatch enumerates the Settings fields callers may change.
type SettingsPatch struct {
	Locale     *string
	Timezone   *string
	Theme      *string
	EmailOptIn *bool
}

func (p SettingsPatch) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Locale, validation.Length(2, 35)),
		validation.Field(&p.Timezone, validation.By(ValidateTimezone)),
		validation.Field(&p.Theme, validation.In(ThemeSystem, ThemeLight, ThemeDark)),
	)
}

func (p SettingsPatch) apply(q *bun.UpdateQuery) *bun.UpdateQuery {
	if p.Locale != nil {
		q = q.Set("locale = ?", *p.Locale)
	}
	if p.Timezone != nil {
		q = q.Set("timezone = ?", *p.Timezone)
	}
	if p.Theme != nil {
		q = q.Set("theme = ?", *p.Theme)
	}
	if p.EmailOptIn != nil {
		q = q.Set("email_opt_in = ?", *p.EmailOptIn)
	}
	return q
}

// ValidatePhoneNumber is an ozzo rule that accepts E.164-ish phone numbers.
func ValidatePhoneNumber(value any) error {
	s := stringValue(value)
	if s == "" {
		return nil
	}

	num, err := phonenumbers.Parse(s, "US")
	if err != nil {
		return errors.New("must be a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}
	return nil
}

// ValidateTimezone is an ozzo rule that accepts IANA timezone names.
func ValidateTimezone(value any) error {
	s := stringValue(value)
	if s == "" {
		return nil
	}

	if _, err := time.LoadLocation(s); err != nil {
		return errors.New("must be a valid IANA timezone")
	}
	return nil
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	default:
		return ""
	}
}
