package identity_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	// single connection keeps the shared in-memory database alive and
	// serializes statements without a busy-timeout dance
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	models := []any{
		(*identity.User)(nil),
		(*identity.Profile)(nil),
		(*identity.Settings)(nil),
	}
	for _, model := range models {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func registerTestUser(t *testing.T, repo identity.RepositoryManager, accountID uuid.UUID, email string) *identity.User {
	t.Helper()

	user, err := repo.Users().Register(context.Background(), &identity.User{
		AccountID:    accountID,
		Email:        email,
		PasswordHash: "not-a-real-hash",
	})
	require.NoError(t, err)

	return user
}
