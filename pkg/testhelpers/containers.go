// Package testhelpers starts the Docker containers used by integration tests.
// Each container is started once per test binary and shared.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/database"
	"github.com/ekaya-inc/ekaya-monitor/pkg/retry"
)

const (
	PostgresImage = "postgres:16-alpine"
	RedisImage    = "redis:7-alpine"

	postgresUser     = "monitor"
	postgresPassword = "test_password"
)

// TestDB is a PostgreSQL server playing the part of a monitored data source.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

// URL returns a connection string for another database on the same server.
func (db *TestDB) URL(ctx context.Context, name string) (string, error) {
	endpoint, err := db.Container.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		return "", fmt.Errorf("failed to resolve postgres endpoint: %w", err)
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", postgresUser, postgresPassword, endpoint, name), nil
}

// MonitorDB is the monitor's own store with migrations applied.
type MonitorDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedTestDB    = sync.OnceValues(startPostgres)
	sharedMonitorDB = sync.OnceValues(func() (*MonitorDB, error) {
		db, err := sharedTestDB()
		if err != nil {
			return nil, err
		}
		return createMonitorDB(db)
	})
	sharedRedis = sync.OnceValues(startRedis)
)

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
}

// GetTestDB returns the shared PostgreSQL container.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()
	requireDocker(t)

	db, err := sharedTestDB()
	if err != nil {
		t.Fatalf("Failed to start postgres: %v", err)
	}
	return db
}

// GetMonitorDB returns the shared, migrated monitor store.
func GetMonitorDB(t *testing.T) *MonitorDB {
	t.Helper()
	requireDocker(t)

	db, err := sharedMonitorDB()
	if err != nil {
		t.Fatalf("Failed to set up monitor database: %v", err)
	}
	return db
}

// GetRedisAddr returns host:port of the shared Redis container.
func GetRedisAddr(t *testing.T) string {
	t.Helper()
	requireDocker(t)

	addr, err := sharedRedis()
	if err != nil {
		t.Fatalf("Failed to start redis: %v", err)
	}
	return addr
}

func startPostgres() (*TestDB, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        PostgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "test_data",
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
			},
			// Ready is logged once by the init server and once by the real one.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	db := &TestDB{Container: container}
	if db.ConnStr, err = db.URL(ctx, "test_data"); err != nil {
		return nil, err
	}

	db.Pool, err = pgxpool.New(ctx, db.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := retry.Do(ctx, retry.DefaultConfig(), func() error { return db.Pool.Ping(ctx) }); err != nil {
		return nil, fmt.Errorf("postgres never became reachable: %w", err)
	}
	return db, nil
}

func createMonitorDB(testDB *TestDB) (*MonitorDB, error) {
	ctx := context.Background()

	if _, err := testDB.Pool.Exec(ctx, "CREATE DATABASE ekaya_monitor_test"); err != nil {
		return nil, fmt.Errorf("failed to create monitor database: %w", err)
	}
	connStr, err := testDB.URL(ctx, "ekaya_monitor_test")
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 5})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to monitor database: %w", err)
	}
	return &MonitorDB{DB: db, ConnStr: connStr}, nil
}

func startRedis() (string, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start redis container: %w", err)
	}
	return container.PortEndpoint(ctx, "6379/tcp", "")
}
