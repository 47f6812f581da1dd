package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	alertdomain "github.com/smallbiznis/quotaflow/internal/alert/domain"
	authdomain "github.com/smallbiznis/quotaflow/internal/auth/domain"
	organizationdomain "github.com/smallbiznis/quotaflow/internal/organization/domain"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// openWarningIndexSQL mirrors the partial index in 000001_init.up.sql for
// databases provisioned through AutoMigrate.
const openWarningIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS ` + alertdomain.OpenWarningIndex + `
	ON billing_alerts (subject_type, subject_id, quota_type)
	WHERE alert_type = 'quota_warning' AND acknowledged = false`

func models() []any {
	return []any{
		&authdomain.User{},
		&authdomain.Session{},
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&usagedomain.UsageEvent{},
		&quotadomain.UsageQuota{},
		&alertdomain.BillingAlert{},
	}
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema from the gorm models. Used for sqlite,
// mysql and tests where the postgres migrations do not apply. Models keep
// indexed strings sized and JSON columns untyped so every dialect can
// create them.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// mysql has no partial indexes; the alert service lock and open warning
	// lookup still apply there.
	if conn.Dialector.Name() == "mysql" {
		return nil
	}
	if err := conn.Exec(openWarningIndexSQL).Error; err != nil {
		return fmt.Errorf("create %s: %w", alertdomain.OpenWarningIndex, err)
	}
	return nil
}
