package database

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/medscreen/screening-registry/config"
	"github.com/medscreen/screening-registry/internal/audit"
	"github.com/medscreen/screening-registry/internal/domain/contingent"
	"github.com/medscreen/screening-registry/internal/domain/examination"
	"github.com/medscreen/screening-registry/internal/domain/facility"
	"github.com/medscreen/screening-registry/internal/domain/operator"
	"github.com/medscreen/screening-registry/pkg/metrics"
)

const poolStatsInterval = 15 * time.Second

func Connect(cfg config.DatabaseConfig, met *metrics.Collector) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt:          true,
		DisableAutomaticPing: false,
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: false,
	}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if met != nil {
		go pollPoolStats(sqlDB, met, poolStatsInterval)
	}

	return db, nil
}

// pollPoolStats keeps the open-connections gauge current for the lifetime of
// the process.
func pollPoolStats(db *sql.DB, met *metrics.Collector, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		met.DBConnections.Set(float64(db.Stats().OpenConnections))
	}
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	start := time.Now()

	schemas := []string{"registry", "audit"} // logical namespace
	for _, schema := range schemas {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("creating schema %s: %w", schema, err)
		}
	}

	models := []any{
		&operator.Operator{},
		&facility.Facility{},
		&contingent.Contingent{},
		&examination.Examination{},
		&audit.Entry{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// createIndexes installs the partial unique indexes that scope natural-key
// uniqueness to non-deleted rows. Their names are load-bearing: the record
// store matches them when classifying uniqueness violations.
func createIndexes(db *gorm.DB) error {
	indexes := []struct {
		name  string
		query string
	}{
		{
			name:  examination.ActiveUniqueIndex,
			query: `CREATE UNIQUE INDEX IF NOT EXISTS ` + examination.ActiveUniqueIndex + ` ON registry.examinations (assay_type, exam_date, serial_number) WHERE deleted_at IS NULL`,
		},
		{
			name:  "idx_examinations_deleted_history",
			query: `CREATE INDEX IF NOT EXISTS idx_examinations_deleted_history ON registry.examinations (assay_type, exam_date, serial_number, deleted_at) WHERE deleted_at IS NOT NULL`,
		},
		{
			name:  "idx_operators_active",
			query: `CREATE INDEX IF NOT EXISTS idx_operators_active ON registry.operators (last_name, first_name) WHERE deleted_at IS NULL`,
		},
		{
			name:  "idx_facilities_active",
			query: `CREATE INDEX IF NOT EXISTS idx_facilities_active ON registry.facilities (code) WHERE deleted_at IS NULL`,
		},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.query).Error; err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}

	return nil
}
