package db

import (
	"fmt"

	"gorm.io/gorm"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS hazard_reports (
		id               UUID PRIMARY KEY,
		vehicle_id       TEXT,
		alert_type       TEXT NOT NULL,
		alert_message    TEXT NOT NULL,
		alert_icon       TEXT NOT NULL,
		confidence       NUMERIC(5,4),
		nearest_distance DOUBLE PRECISION,
		detection_count  INT NOT NULL DEFAULT 0,
		detections       JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_hazard_reports_alert_type ON hazard_reports(alert_type);`,
	`CREATE INDEX IF NOT EXISTS idx_hazard_reports_created_at ON hazard_reports(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_hazard_reports_vehicle_id ON hazard_reports(vehicle_id);`,
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS hazard_reports (
		id               TEXT PRIMARY KEY,
		vehicle_id       TEXT,
		alert_type       TEXT NOT NULL,
		alert_message    TEXT NOT NULL,
		alert_icon       TEXT NOT NULL,
		confidence       REAL,
		nearest_distance REAL,
		detection_count  INTEGER NOT NULL DEFAULT 0,
		detections       JSON,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_hazard_reports_alert_type ON hazard_reports(alert_type);`,
	`CREATE INDEX IF NOT EXISTS idx_hazard_reports_created_at ON hazard_reports(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_hazard_reports_vehicle_id ON hazard_reports(vehicle_id);`,
}

func runMigrations(db *gorm.DB, statements []string) error {
	for i, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
