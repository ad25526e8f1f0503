package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect struct {
	name   string
	driver string
	// forUpdate is appended to row reads that precede a write in the same tx.
	forUpdate string
	txOptions *sql.TxOptions
}

var (
	postgresDialect = dialect{
		name:      "postgres",
		driver:    "postgres",
		forUpdate: " FOR UPDATE",
		txOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	}
	// SQLite serializes writers itself and has no row locks.
	sqliteDialect = dialect{
		name:      "sqlite",
		driver:    "sqlite",
		txOptions: &sql.TxOptions{},
	}
)

type Repository struct {
	db      *sql.DB
	dsn     string
	dialect dialect
	now     func() time.Time
}

func NewPostgresRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := openDB(postgresDialect.driver, psqlconn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db, dsn: psqlconn, dialect: postgresDialect, now: time.Now}, nil
}

// NewSQLiteRepository opens a file-backed SQLite database. A single connection
// is used so that transactions never contend for the write lock.
func NewSQLiteRepository(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)

	db, err := openDB(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	return &Repository{db: db, dsn: dsn, dialect: sqliteDialect, now: time.Now}, nil
}

func openDB(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}
	return db, nil
}

// RunMigrations applies the migrations under <migrationsDir>/<dialect>. It uses
// its own connection so the migration lock never holds a pooled one.
func (r *Repository) RunMigrations(migrationsDir string) error {
	db, err := openDB(r.dialect.driver, r.dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	var driver database.Driver
	switch r.dialect.name {
	case postgresDialect.name:
		driver, err = postgres.WithInstance(db, &postgres.Config{
			MigrationsTable: "orders_schema_migrations",
		})
	default:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{
			MigrationsTable: "orders_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", filepath.Join(migrationsDir, r.dialect.name)),
		r.dialect.name,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Dialect() string {
	return r.dialect.name
}

func (r *Repository) Close() error {
	return r.db.Close()
}
