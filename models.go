package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Availability is the user's lifecycle availability state
type Availability string

const (
	// AvailabilityActive means the user can be used by product flows
	AvailabilityActive Availability = "active"
	// AvailabilityDisabled means the user is temporarily turned off
	AvailabilityDisabled Availability = "disabled"
	// AvailabilityArchived means the user was retired. Terminal.
	AvailabilityArchived Availability = "archived"
)

// User is the identity root. Email is unique within its account,
// tokens are globally unique while set.
type User struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID         uuid.UUID  `bun:"account_id,notnull,type:uuid,unique:users_account_email" json:"account_id,omitempty"`
	Email             string     `bun:"email,notnull,unique:users_account_email" json:"email,omitempty"`
	PasswordHash      string     `bun:"password_hash" json:"-"`
	Role              UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	EmailConfirmedAt  *time.Time `bun:"email_confirmed_at,nullzero" json:"email_confirmed_at,omitempty"`
	ConfirmationToken *string    `bun:"confirmation_token,nullzero,unique" json:"-"`
	ResetToken        *string    `bun:"reset_token,nullzero,unique" json:"-"`
	DisabledAt        *time.Time `bun:"disabled_at,nullzero" json:"disabled_at,omitempty"`
	ArchivedAt        *time.Time `bun:"archived_at,nullzero" json:"archived_at,omitempty"`
	Version           int64      `bun:"version,notnull,default:0" json:"version,omitempty"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`

	Profile  *Profile  `bun:"rel:has-one,join:id=user_id" json:"profile,omitempty"`
	Settings *Settings `bun:"rel:has-one,join:id=user_id" json:"settings,omitempty"`
}

// Availability derives the lifecycle state from the soft-state timestamps.
// Archived wins over disabled.
func (u *User) Availability() Availability {
	switch {
	case u.ArchivedAt != nil:
		return AvailabilityArchived
	case u.DisabledAt != nil:
		return AvailabilityDisabled
	default:
		return AvailabilityActive
	}
}

// IsActive reports whether the user is neither disabled nor archived
func (u *User) IsActive() bool {
	return u.Availability() == AvailabilityActive
}

// IsDisabled reports whether the user is disabled
func (u *User) IsDisabled() bool {
	return u.Availability() == AvailabilityDisabled
}

// IsArchived reports whether the user is archived
func (u *User) IsArchived() bool {
	return u.Availability() == AvailabilityArchived
}

// IsEmailConfirmed reports whether the email address was confirmed
func (u *User) IsEmailConfirmed() bool {
	return u.EmailConfirmedAt != nil
}

// Profile holds display data for a user. Exactly one row per user,
// provisioned on first access.
type Profile struct {
	bun.BaseModel `bun:"table:user_profiles,alias:prf"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid,unique" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	DisplayName   string     `bun:"display_name" json:"display_name,omitempty"`
	Bio           string     `bun:"bio" json:"bio,omitempty"`
	AvatarURL     string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	Phone         string     `bun:"phone_number" json:"phone_number,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Settings holds per-user preferences. Same 1:1 shape and provisioning
// rules as Profile.
type Settings struct {
	bun.BaseModel `bun:"table:user_settings,alias:ust"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid,unique" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Locale        string     `bun:"locale,notnull" json:"locale,omitempty"`
	Timezone      string     `bun:"timezone,notnull" json:"timezone,omitempty"`
	Theme         string     `bun:"theme,notnull" json:"theme,omitempty"`
	EmailOptIn    bool       `bun:"email_opt_in" json:"email_opt_in,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Theme values accepted by SettingsPatch
const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

func defaultProfile(userID uuid.UUID) *Profile {
	return &Profile{
		ID:     uuid.New(),
		UserID: userID,
	}
}

func defaultSettings(userID uuid.UUID) *Settings {
	return &Settings{
		ID:         uuid.New(),
		UserID:     userID,
		Locale:     "en",
		Timezone:   "UTC",
		Theme:      ThemeSystem,
		EmailOptIn: true,
	}
}
