// Package testcontainers manages the throwaway PostgreSQL instance the
// result-sink integration tests run against. It wraps testcontainers-go with
// container lifecycle, a pgx pool and cleanup that runs even when a test
// fails.
//
// Docker must be installed and running; tests that need a container should
// skip when it is not (see postgres tests).
package testcontainers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultTimeout bounds container startup and initialization.
const defaultTimeout = 30 * time.Second

// TestContext holds the test database and its lifecycle hooks.
//
// Example:
//
//	func TestResultWriter(t *testing.T) {
//	    tc := testcontainers.NewTestContext(t)
//	    defer tc.Cleanup()
//
//	    var count int
//	    err := tc.DB.QueryRow(tc.Ctx(), "SELECT COUNT(*) FROM runs").Scan(&count)
//	    require.NoError(t, err)
//	}
type TestContext struct {
	t *testing.T

	ctx        context.Context
	cancelFunc context.CancelFunc
	cleanup    []func()

	postgresContainer *PostgresContainer

	DB *pgxpool.Pool

	PostgresConfig *PostgresConfig
}

// NewTestContext starts a PostgreSQL container and connects a pool to it.
// The test fails if the container cannot start.
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	tc := &TestContext{
		t:          t,
		ctx:        ctx,
		cancelFunc: cancel,
		cleanup:    make([]func(), 0),
	}

	if err := tc.initPostgres(); err != nil {
		t.Fatalf("Failed to initialize Postgres: %v", err)
	}

	return tc
}

// WithTestContext runs fn with a fresh test context and guarantees cleanup.
func WithTestContext(t *testing.T, fn func(*TestContext)) {
	t.Helper()

	tc := NewTestContext(t)
	defer tc.Cleanup()

	fn(tc)
}

// Ctx returns the context bounded by the container lifecycle.
func (tc *TestContext) Ctx() context.Context {
	return tc.ctx
}

// DSN returns the connection string of the test database.
func (tc *TestContext) DSN() string {
	return tc.postgresContainer.GetDSN()
}

// Cleanup tears resources down in reverse order of creation.
func (tc *TestContext) Cleanup() {
	for i := len(tc.cleanup) - 1; i >= 0; i-- {
		tc.cleanup[i]()
	}

	tc.cancelFunc()
}

func (tc *TestContext) addCleanup(fn func()) {
	tc.cleanup = append(tc.cleanup, fn)
}

func (tc *TestContext) initPostgres() error {
	container, err := NewPostgresContainer(tc.ctx)
	if err != nil {
		return fmt.Errorf("failed to create Postgres container: %w", err)
	}

	tc.postgresContainer = container
	tc.addCleanup(func() {
		if err := container.Terminate(tc.ctx); err != nil {
			tc.t.Errorf("Failed to terminate Postgres container: %v", err)
		}
	})

	pool, err := pgxpool.New(tc.ctx, container.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	tc.DB = pool
	tc.addCleanup(func() {
		tc.DB.Close()
	})

	tc.PostgresConfig = &PostgresConfig{
		Host:     container.Host,
		Port:     container.Port,
		User:     container.User,
		Password: container.Password,
		Database: container.Database,
	}

	return nil
}
