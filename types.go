package identity

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Mailer is the notification collaborator. Failures are reported back to
// callers as ErrDeliveryFailure, never retried by this package.
type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, user *User) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, user *User) error

// SendPasswordResetEmail implements Mailer.
func (f MailerFunc) SendPasswordResetEmail(ctx context.Context, user *User) error {
	if f == nil {
		return nil
	}
	return f(ctx, user)
}

// PasswordHasher hashes cleartext credentials before persistence.
type PasswordHasher func(password string) (string, error)

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
