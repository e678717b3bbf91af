package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/labintel-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Ingestion
		&types.LabUpload{},
		&types.LabBiomarker{},
		&types.PreDrawContext{},

		// Protocol history
		&types.Protocol{},

		// Derived analysis
		&types.LabEventReview{},
		&types.BayesianChangepoint{},
		&types.HealthPrediction{},
	)
}

func EnsureLabIndexes(db *gorm.DB) error {
	// Chronological replay reads every upload for a user ordered by draw
	// date; the biomarker series reads are (user, key) scans.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_lab_upload_user_test_date
		ON lab_upload (user_id, test_date)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_lab_upload_user_test_date: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_lab_biomarker_user_key_created
		ON lab_biomarker (user_id, key, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_lab_biomarker_user_key_created: %w", err)
	}
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_health_prediction_user_marker
		ON health_prediction (user_id, biomarker_key);
	`).Error; err != nil {
		return fmt.Errorf("create idx_health_prediction_user_marker: %w", err)
	}
	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if s.db.Dialector.Name() != "postgres" {
		return nil
	}
	if err := EnsureLabIndexes(s.db); err != nil {
		s.log.Error("Lab index migration failed", "error", err)
		return err
	}
	return nil
}
