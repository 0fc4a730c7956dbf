//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"sumbandila/migrations"
)

var (
	registryTables = []string{"issuer_keys", "revoked_credentials", "credential_records"}
	auditTables    = []string{"audit_events"}
)

// PostgresContainer is a migrated registry database.
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	DSN       string
	DB        *sql.DB
}

func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:18-alpine",
		postgres.WithDatabase("registry"),
		postgres.WithUsername("sumbandila"),
		postgres.WithPassword("sumbandila"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fail(t, container, "postgres connection string: %v", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fail(t, container, "open postgres: %v", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		fail(t, container, "migrate registry schema: %v", err)
	}

	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

func (p *PostgresContainer) TruncateRegistry(ctx context.Context) error {
	return p.truncate(ctx, registryTables)
}

func (p *PostgresContainer) TruncateAudit(ctx context.Context) error {
	return p.truncate(ctx, auditTables)
}

func (p *PostgresContainer) truncate(ctx context.Context, tables []string) error {
	if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE"); err != nil {
		return fmt.Errorf("truncate %v: %w", tables, err)
	}
	return nil
}

func (p *PostgresContainer) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.DB.QueryRowContext(ctx, query, args...)
}
