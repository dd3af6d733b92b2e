package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// UserTransitioner is the slice of the Users repository the state machine
// needs to persist validated partial updates.
type UserTransitioner interface {
	ApplyPatch(ctx context.Context, user *User, patch UserPatch) (*User, error)
	ConsumeResetToken(ctx context.Context, token, passwordHash string) (*User, error)
}

// AccountStateMachine applies role, lifecycle, verification, and
// password-reset transitions to a user. Every transition validates first,
// persists a sparse patch second, and is idempotent: reapplying a
// transition yields the same terminal state.
type AccountStateMachine interface {
	RequestPasswordReset(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error)
	ConsumePasswordReset(ctx context.Context, actor ActorRef, token, newPassword string, opts ...TransitionOption) (*User, error)
	ConfirmEmail(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error)
	SetRole(ctx context.Context, actor ActorRef, user *User, role UserRole, opts ...TransitionOption) (*User, error)
	SetAvailability(ctx context.Context, actor ActorRef, user *User, target Availability, opts ...TransitionOption) (*User, error)
	CurrentAvailability(user *User) Availability
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineTokenIssuer overrides the issuer used to mint reset tokens.
func WithStateMachineTokenIssuer(issuer TokenIssuer) StateMachineOption {
	return func(sm *accountStateMachine) {
		if issuer != nil {
			sm.tokens = issuer
		}
	}
}

// WithStateMachineMailer sets the notification collaborator used after a
// reset token is persisted.
func WithStateMachineMailer(mailer Mailer) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.mailer = mailer
	}
}

// WithStateMachineHasher overrides the credential hashing primitive.
func WithStateMachineHasher(hasher PasswordHasher) StateMachineOption {
	return func(sm *accountStateMachine) {
		if hasher != nil {
			sm.hash = hasher
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// NewAccountStateMachine returns the default implementation backed by the
// provided repository slice.
func NewAccountStateMachine(users UserTransitioner, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		users: users,
		transitions: map[Availability]map[Availability]struct{}{
			AvailabilityActive: {
				AvailabilityDisabled: {},
				AvailabilityArchived: {},
			},
			AvailabilityDisabled: {
				AvailabilityActive: {},
			},
		},
		now:          time.Now,
		tokens:       NewTokenIssuer(),
		hash:         HashPassword,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	users        UserTransitioner
	transitions  map[Availability]map[Availability]struct{}
	now          func() time.Time
	tokens       TokenIssuer
	mailer       Mailer
	hash         PasswordHasher
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	metadata TransitionMetadata
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

// RequestPasswordReset mints a fresh reset token, persists it, and then
// notifies the user. Issuing again simply replaces the previous token, so
// only the most recent one is consumable. A notification failure does NOT
// roll back the persisted token: callers get the updated user together
// with ErrDeliveryFailure and must treat the two outcomes separately.
func (sm *accountStateMachine) RequestPasswordReset(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error) {
	if user == nil {
		return nil, goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	token, err := sm.tokens.IssueToken()
	if err != nil {
		return nil, err
	}

	updated, err := sm.users.ApplyPatch(ctx, user, UserPatch{
		SetResetToken: &token,
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrTokenCollision.WithMetadata(map[string]any{
				"user_id": user.ID.String(),
			})
		}
		return nil, err
	}

	options := sm.buildTransitionOptions(opts...)
	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		Actor:     actor,
		UserID:    updated.ID.String(),
		Metadata:  sm.transitionMetadata(options.cloneMetadata()),
	})

	if sm.mailer != nil {
		if merr := sm.mailer.SendPasswordResetEmail(ctx, updated); merr != nil {
			return updated, ErrDeliveryFailure.WithMetadata(map[string]any{
				"user_id": updated.ID.String(),
				"cause":   merr.Error(),
			})
		}
	}

	return updated, nil
}

// ConsumePasswordReset exchanges a live reset token for a new credential.
// The token is cleared in the same statement that stores the credential,
// so a second consumption of the same token fails with not found.
func (sm *accountStateMachine) ConsumePasswordReset(ctx context.Context, actor ActorRef, token, newPassword string, opts ...TransitionOption) (*User, error) {
	hash, err := sm.hash(newPassword)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	updated, err := sm.users.ConsumeResetToken(ctx, token, hash)
	if err != nil {
		return nil, err
	}

	options := sm.buildTransitionOptions(opts...)
	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetCompleted,
		Actor:     actor,
		UserID:    updated.ID.String(),
		Metadata:  sm.transitionMetadata(options.cloneMetadata()),
	})

	return updated, nil
}

// ConfirmEmail marks the user's email as verified. The confirmation token
// is intentionally left in place; retention is the caller's policy.
func (sm *accountStateMachine) ConfirmEmail(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error) {
	if user == nil {
		return nil, goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	if user.IsEmailConfirmed() {
		return user, nil
	}

	now := sm.now()
	updated, err := sm.users.ApplyPatch(ctx, user, UserPatch{
		SetEmailConfirmedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	options := sm.buildTransitionOptions(opts...)
	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventEmailConfirmed,
		Actor:     actor,
		UserID:    updated.ID.String(),
		Metadata:  sm.transitionMetadata(options.cloneMetadata()),
	})

	return updated, nil
}

// SetRole validates and persists a role change.
func (sm *accountStateMachine) SetRole(ctx context.Context, actor ActorRef, user *User, role UserRole, opts ...TransitionOption) (*User, error) {
	if user == nil {
		return nil, goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	if !role.IsValid() {
		return nil, ErrInvalidRole.WithMetadata(map[string]any{
			"role":    string(role),
			"user_id": user.ID.String(),
		})
	}

	if user.Role == role {
		return user, nil
	}

	from := user.Role
	updated, err := sm.users.ApplyPatch(ctx, user, UserPatch{
		SetRole: &role,
	})
	if err != nil {
		return nil, err
	}

	options := sm.buildTransitionOptions(opts...)
	meta := sm.transitionMetadata(options.cloneMetadata())
	if meta == nil {
		meta = map[string]any{}
	}
	meta["from_role"] = string(from)
	meta["to_role"] = string(role)

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRoleChanged,
		Actor:     actor,
		UserID:    updated.ID.String(),
		Metadata:  meta,
	})

	return updated, nil
}

// SetAvailability moves the user between active, disabled, and archived by
// setting or clearing the corresponding soft-state timestamp. Archived is
// terminal. Reapplying the current availability is a no-op.
func (sm *accountStateMachine) SetAvailability(ctx context.Context, actor ActorRef, user *User, target Availability, opts ...TransitionOption) (*User, error) {
	if user == nil {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"target": string(target),
			"reason": "user is nil",
		})
	}

	if target == "" {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"reason": "target availability is empty",
		})
	}

	from := user.Availability()
	if from == target {
		return user, nil
	}

	if from == AvailabilityArchived {
		return nil, ErrTerminalState.WithMetadata(map[string]any{
			"from": string(from),
			"to":   string(target),
		})
	}

	if !sm.canTransition(from, target) {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"from": string(from),
			"to":   string(target),
		})
	}

	patch := UserPatch{}
	switch target {
	case AvailabilityDisabled:
		now := sm.now()
		patch.SetDisabledAt = &now
	case AvailabilityActive:
		patch.ClearDisabledAt = true
	case AvailabilityArchived:
		now := sm.now()
		patch.SetArchivedAt = &now
	}

	updated, err := sm.users.ApplyPatch(ctx, user, patch)
	if err != nil {
		return nil, err
	}

	options := sm.buildTransitionOptions(opts...)
	sm.recordActivity(ctx, ActivityEvent{
		EventType:        ActivityEventAvailabilityChanged,
		Actor:            actor,
		UserID:           updated.ID.String(),
		FromAvailability: from,
		ToAvailability:   target,
		Metadata:         sm.transitionMetadata(options.cloneMetadata()),
	})

	return updated, nil
}

func (sm *accountStateMachine) CurrentAvailability(user *User) Availability {
	if user == nil {
		return ""
	}
	return user.Availability()
}

func (sm *accountStateMachine) canTransition(from, to Availability) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *accountStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *accountStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func (sm *accountStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
