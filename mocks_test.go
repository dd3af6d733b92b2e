package identity_test

import (
	"context"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/mock"
)

// MockTransitioner implements identity.UserTransitioner
type MockTransitioner struct {
	mock.Mock
}

func (m *MockTransitioner) ApplyPatch(ctx context.Context, user *identity.User, patch identity.UserPatch) (*identity.User, error) {
	args := m.Called(ctx, user, patch)
	if u, ok := args.Get(0).(*identity.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTransitioner) ConsumeResetToken(ctx context.Context, token, passwordHash string) (*identity.User, error) {
	args := m.Called(ctx, token, passwordHash)
	if u, ok := args.Get(0).(*identity.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMailer implements identity.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendPasswordResetEmail(ctx context.Context, user *identity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

type capturingSink struct {
	events []identity.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt identity.ActivityEvent) error {
	c.events = append(c.events, evt)
	return nil
}

type capturingMailer struct {
	sent []*identity.User
}

func (c *capturingMailer) SendPasswordResetEmail(ctx context.Context, user *identity.User) error {
	c.sent = append(c.sent, user)
	return nil
}
