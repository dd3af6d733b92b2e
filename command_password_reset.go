package identity

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// PasswordResetStep step on password reset
type PasswordResetStep = string

const (
	// ResetUnknown is the unknown status
	ResetUnknown PasswordResetStep = "unknown"
	// ResetInit is the initial step
	ResetInit PasswordResetStep = "show-reset"
	// ResetEmailSent notification sent
	ResetEmailSent PasswordResetStep = "email-sent"
	// ResetFinalized processing change
	ResetFinalized PasswordResetStep = "password-changed"
)

type InitializePasswordResetMessage struct {
	Stage      string    `json:"stage" doc:"Password reset stage."`
	AccountID  uuid.UUID `json:"account_id" doc:"Tenant scope for the lookup."`
	Email      string    `json:"email" doc:"Customer email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (e InitializePasswordResetMessage) Type() string { return "identity.user.password_reset" }

func (e InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.AccountID, validation.By(requiredUUID)),
	)
}

type InitializePasswordResetResponse struct {
	User      *User
	Stage     string
	Delivered bool
	Success   bool
}

type InitializePasswordResetHandler struct {
	repo    RepositoryManager
	machine AccountStateMachine
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager, machine AccountStateMachine) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:    repo,
		machine: machine,
	}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	resp := &InitializePasswordResetResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if event.Stage != ResetInit {
		return goerrors.New("unknown or invalid stage for password reset initialization", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"stage": event.Stage})
	}

	if err := event.Validate(); err != nil {
		return validationError("invalid password reset payload", err)
	}

	user, err := h.repo.Users().FindByEmail(ctx, event.AccountID, event.Email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			// report the same stage as the happy path so the endpoint
			// cannot be used to enumerate registered emails
			resp.Stage = ResetEmailSent
			resp.Success = true
			if event.OnResponse != nil {
				event.OnResponse(resp)
			}
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	actor := ActorRef{ID: user.ID.String(), Type: "user"}
	updated, err := h.machine.RequestPasswordReset(ctx, actor, user)
	if err != nil && !errors.Is(err, ErrDeliveryFailure) {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	resp.User = updated
	resp.Stage = ResetEmailSent
	resp.Delivered = err == nil
	resp.Success = true

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

type FinalizePasswordResetMessage struct {
	Token      string `json:"token" doc:"Password reset token."`
	Password   string `json:"password" doc:"New password."`
	OnResponse func(resp *FinalizePasswordResetResponse)
}

func (e FinalizePasswordResetMessage) Type() string { return "identity.user.password_reset_finalize" }

func (e FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Token, validation.Required, validation.Length(TokenLength, TokenLength)),
		validation.Field(&e.Password, validation.Required, validation.Length(10, 100)),
	)
}

type FinalizePasswordResetResponse struct {
	User    *User
	Stage   string
	Success bool
}

type FinalizePasswordResetHandler struct {
	repo    RepositoryManager
	machine AccountStateMachine
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, machine AccountStateMachine) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:    repo,
		machine: machine,
	}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return validationError("invalid password reset payload", err)
	}

	actor := ActorRef{Type: "user"}
	user, err := h.machine.ConsumePasswordReset(ctx, actor, event.Token, event.Password)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return goerrors.New("invalid or unknown password reset token", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	if event.OnResponse != nil {
		event.OnResponse(&FinalizePasswordResetResponse{
			User:    user,
			Stage:   ResetFinalized,
			Success: true,
		})
	}

	return nil
}
