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
	apikeydomain "github.com/smallbiznis/fakturo/internal/apikey/domain"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	dunningdomain "github.com/smallbiznis/fakturo/internal/dunning/domain"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	shopdomain "github.com/smallbiznis/fakturo/internal/shop/domain"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the application, in dependency order.
func Models() []any {
	return []any{
		&userdomain.User{},
		&apikeydomain.APIKey{},
		&positiondomain.Discount{},
		&filedomain.File{},
		&invoicedomain.InvoiceType{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoicePosition{},
		&invoicedomain.InvoiceHistory{},
		&invoicedomain.InvoiceSequence{},
		&prepaiddomain.PrepaidHistory{},
		&contractdomain.ContractType{},
		&contractdomain.Contract{},
		&contractdomain.ContractPosition{},
		&dunningdomain.InvoiceDunning{},
		&dunningdomain.InvoiceReminder{},
		&shopdomain.ShopForm{},
		&shopdomain.ShopFormField{},
		&shopdomain.ShopFormFieldOption{},
		&shopdomain.ShopOrderQueue{},
		&shopdomain.ShopOrderQueueField{},
		&shopdomain.ShopOrderQueueHistory{},
	}
}

// Apply brings the schema up to date. Postgres runs the embedded SQL
// migrations, every other dialect is auto-migrated from the models.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

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
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
