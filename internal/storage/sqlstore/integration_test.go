//go:build integration

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := Open(s.ctx, DriverPostgres, connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM links")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) TestUpsert_IdempotentByNaturalKey() {
	store := NewLinkStore(s.db)

	id1, err := store.Upsert(s.ctx, verifiedLink("alice", time.Unix(100, 0)))
	s.Require().NoError(err)
	id2, err := store.Upsert(s.ctx, verifiedLink("alice", time.Unix(150, 0)))
	s.Require().NoError(err)
	s.Equal(id1, id2)

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM links"))
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestUpsert_KeepsHighWaterMark() {
	store := NewLinkStore(s.db)

	_, err := store.Upsert(s.ctx, verifiedLink("alice", time.Unix(200, 0)))
	s.Require().NoError(err)
	_, err = store.Upsert(s.ctx, verifiedLink("alice", time.Unix(100, 0)))
	s.Require().NoError(err)

	links, err := store.LoadAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(links, 1)
	s.True(links[0].LastUpdate.Equal(time.Unix(200, 0)))
}

func (s *PostgresIntegrationSuite) TestDelete_InTransaction() {
	store := NewLinkStore(s.db)
	txManager := NewTransactionManager(s.db)

	_, err := store.Upsert(s.ctx, verifiedLink("alice", time.Unix(100, 0)))
	s.Require().NoError(err)
	_, err = store.Upsert(s.ctx, verifiedLink("bob", time.Unix(100, 0)))
	s.Require().NoError(err)

	err = txManager.WithTransaction(s.ctx, func(txCtx context.Context) error {
		return store.Delete(txCtx, *verifiedLink("alice", time.Time{}))
	})
	s.Require().NoError(err)

	links, err := store.LoadAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(links, 1)
	s.Equal("bob", links[0].LinkedUserID)
}
