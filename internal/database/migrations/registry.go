package migrations

import (
	"github.com/plexbridge/plexbridge/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order. New installations
// get the full schema from 001; schema changes after the first release must
// be added here as numbered migrations, never by editing 001.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			// AutoMigrate all models in dependency order
			return tx.AutoMigrate(
				// Lineup
				&models.Channel{},
				&models.Stream{},

				// Guide data
				&models.EpgSource{},
				&models.EpgChannel{},
				&models.EpgProgram{},

				// Streaming history
				&models.StreamSession{},

				// Runtime configuration and captured logs
				&models.Setting{},
				&models.LogEntry{},
			)
		},
		Down: func(tx *gorm.DB) error {
			// Drop tables in reverse dependency order
			tables := []string{
				"logs",
				"settings",
				"stream_sessions",
				"epg_programs",
				"epg_channels",
				"epg_sources",
				"streams",
				"channels",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
