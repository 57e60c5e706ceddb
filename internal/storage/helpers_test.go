package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/quote-of-the-day/internal/migrations"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

// newMockStorage создаёт Storage поверх sqlmock.
func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции.
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgPort := nat.Port("5432/tcp")
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{string(pgPort)},
		Env: map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(pgPort),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(3 * time.Minute),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start container")

	host, err := postgresContainer.Host(ctx)
	require.NoError(t, err)
	port, err := postgresContainer.MappedPort(ctx, pgPort)
	require.NoError(t, err, "failed to get port")

	connStr := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	var storage *Storage
	for range 10 {
		storage, err = New(ctx, connStr, Options{MaxOpenConns: 5})
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")
	require.NoError(t, migrations.Run(storage.DB.DB))

	cleanup := func() {
		if storage != nil {
			_ = storage.Close()
		}
		_ = postgresContainer.Terminate(ctx)
	}
	return storage, cleanup
}

// newTestUser возвращает неподтверждённого пользователя с тарифом free.
func newTestUser(email string) *models.User {
	return &models.User{
		ID:                   uuid.New(),
		Email:                email,
		PasswordHash:         "hash",
		IsActive:             true,
		Timezone:             models.DefaultTimezone,
		NotificationSettings: models.DefaultNotificationSettings(),
		SubscriptionTier:     models.TierFree,
	}
}

func newTestSubscription(userID uuid.UUID) *models.Subscription {
	return &models.Subscription{
		ID:     uuid.New(),
		UserID: userID,
		Tier:   models.TierFree,
		Status: models.StatusActive,
	}
}
