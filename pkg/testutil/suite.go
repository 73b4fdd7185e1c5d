package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/farmacia/farmacia-backend/pkg/database"
	"github.com/farmacia/farmacia-backend/pkg/logger"
	"github.com/jmoiron/sqlx"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// pharmacyTables lists every table in truncation order.
var pharmacyTables = []string{
	"delivery_details",
	"deliveries",
	"stock_request_items",
	"stock_requests",
	"stock_movements",
	"medication_batches",
	"medications",
	"suppliers",
	"user_cache",
}

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container and applies
// the pharmacy schema. Call it from TestMain.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if !testing.Short() {
//	        suite, _ = testutil.NewIntegrationSuite(context.Background())
//	    }
//	    os.Exit(m.Run())
//	}
//
//	func TestSomething(t *testing.T) {
//	    testutil.RequireSuite(t, suite)
//	    suite.Reset(t, context.Background())
//	    // ...
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("test", "test")
	wrappedDB := database.Wrap(db, log)

	if err := wrappedDB.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        wrappedDB,
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// RequireSuite skips the test when no integration suite could be started,
// e.g. under -short or without Docker.
func RequireSuite(t *testing.T, s *IntegrationSuite) {
	t.Helper()
	SkipIfShort(t)
	if s == nil {
		t.Skip("integration suite unavailable (is Docker running?)")
	}
}

// Reset empties every pharmacy table so each test starts clean.
func (s *IntegrationSuite) Reset(t *testing.T, ctx context.Context) {
	t.Helper()
	query := "TRUNCATE " + strings.Join(pharmacyTables, ", ") + " CASCADE"
	if _, err := s.RawDB.ExecContext(ctx, query); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// InsertSupplier stores a supplier row. Supplier CRUD lives elsewhere, so
// tests seed suppliers directly.
func (s *IntegrationSuite) InsertSupplier(t *testing.T, ctx context.Context, sup SupplierFixture) {
	t.Helper()
	_, err := s.RawDB.ExecContext(ctx, `INSERT INTO suppliers (id, name) VALUES ($1, $2)`, sup.ID, sup.Name)
	if err != nil {
		t.Fatalf("failed to insert supplier: %v", err)
	}
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}
