package db

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// dataMigration is one entry of the poor-man migration registry: a named
// function run exactly once per database, in registry order, each in its own
// transaction. Schema DDL lives in the embedded SQL migrations; this registry
// exists for data fixups and for column additions that predate the SQL
// migration history.
type dataMigration struct {
	name string
	run  func(tx *gorm.DB) error
}

// dataMigrations is the ordered registry. Append only; never reorder or
// rename entries, since applied names are recorded in the data_migrations
// table.
var dataMigrations = []dataMigration{
	{
		// Pre-token databases stored only screen name and password hash.
		name: "add_delegated_token_columns",
		run: func(tx *gorm.DB) error {
			if err := AddColumn(tx, "users", "token", "TEXT NOT NULL DEFAULT ''"); err != nil {
				return err
			}
			return AddColumn(tx, "users", "token_secret", "TEXT NOT NULL DEFAULT ''")
		},
	},
	{
		// Watermark values were historically written with surrounding
		// whitespace by some clients; normalize them once.
		name: "trim_watermark_values",
		run: func(tx *gorm.DB) error {
			return tx.Exec(
				"UPDATE user_vars SET value = TRIM(value) WHERE name LIKE '%last_status_id%' OR name LIKE '%_last_id'",
			).Error
		},
	},
}

// RunDataMigrations executes every registry entry that is not yet recorded in
// the data_migrations table. Each entry runs inside its own transaction, and
// its name is recorded in the same transaction, so a failed migration leaves
// no partial state behind.
func RunDataMigrations(database *gorm.DB, log *zap.Logger) error {
	for _, m := range dataMigrations {
		var applied DataMigration
		err := database.Where("name = ?", m.name).First(&applied).Error
		switch {
		case err == nil:
			continue
		case errors.Is(err, gorm.ErrRecordNotFound):
			// not applied yet
		default:
			return fmt.Errorf("checking data migration %q: %w", m.name, err)
		}

		err = database.Transaction(func(tx *gorm.DB) error {
			if err := m.run(tx); err != nil {
				return err
			}
			return tx.Create(&DataMigration{Name: m.name}).Error
		})
		if err != nil {
			return fmt.Errorf("data migration %q failed: %w", m.name, err)
		}
		log.Info("applied data migration", zap.String("name", m.name))
	}
	return nil
}

// AddColumn adds a column to a table unless it already exists. It reflects
// the live schema rather than trusting the migration history, so re-running
// it is always safe.
func AddColumn(tx *gorm.DB, table, column, ddl string) error {
	if tx.Migrator().HasColumn(table, column) {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddl)
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("adding column %s.%s: %w", table, column, err)
	}
	return nil
}
