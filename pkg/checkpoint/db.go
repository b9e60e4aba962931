package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/source"
)

// ExportCursor is the persisted high-water mark of one table
type ExportCursor struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Database  string    `gorm:"column:database_name;type:varchar(255);not null;uniqueIndex:idx_cursor_table"`
	Table     string    `gorm:"column:table_name;type:varchar(255);not null;uniqueIndex:idx_cursor_table"`
	Position  uint64    `gorm:"column:cursor_value;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for the ExportCursor model
func (ExportCursor) TableName() string {
	return "export_cursors"
}

// ExportCompletion records that a table finished exporting in a family
type ExportCompletion struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Database    string    `gorm:"column:database_name;type:varchar(255);not null;index:idx_completion_family"`
	Family      string    `gorm:"type:varchar(100);not null;default:'';index:idx_completion_family"`
	Table       string    `gorm:"column:table_name;type:varchar(255);not null"`
	CompletedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for the ExportCompletion model
func (ExportCompletion) TableName() string {
	return "export_completions"
}

// Connect opens the metadata database described by cfg
func Connect(cfg config.MetadataDBConfig, debug bool, log *logrus.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to metadata database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	if cfg.ConnMaxLifetime != "" {
		duration, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			log.Warnf("Invalid connection max lifetime '%s', using default 5m: %v", cfg.ConnMaxLifetime, err)
			duration = 5 * time.Minute
		}
		sqlDB.SetConnMaxLifetime(duration)
	}

	if cfg.AutoMigrate {
		log.Info("Running database migrations for checkpoint tables")
		if err := RunMigrations(db); err != nil {
			return nil, err
		}
	}

	log.Infof("Connected to metadata database at %s:%d", cfg.Host, cfg.Port)
	return db, nil
}

// RunMigrations creates the checkpoint tables if they don't exist
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&ExportCursor{}, &ExportCompletion{}); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	return nil
}

// DBCursorStore keeps cursors in the export_cursors table
type DBCursorStore struct {
	db *gorm.DB
}

// NewDBCursorStore creates a cursor store backed by db
func NewDBCursorStore(db *gorm.DB) *DBCursorStore {
	return &DBCursorStore{db: db}
}

// Read returns the stored cursor for ref
func (s *DBCursorStore) Read(ctx context.Context, ref source.TableRef) (uint64, bool, error) {
	var row ExportCursor
	err := s.db.WithContext(ctx).
		Where("database_name = ? AND table_name = ?", ref.Database, ref.Table).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cursor for %s: %w", ref, err)
	}
	return row.Position, true, nil
}

// Write upserts the cursor for ref
func (s *DBCursorStore) Write(ctx context.Context, ref source.TableRef, cursor uint64) error {
	row := ExportCursor{
		Database:  ref.Database,
		Table:     ref.Table,
		Position:  cursor,
		UpdatedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "database_name"}, {Name: "table_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor_value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write cursor for %s: %w", ref, err)
	}
	return nil
}

// DBCompletionLog keeps completed tables in the export_completions table
type DBCompletionLog struct {
	db     *gorm.DB
	family string
}

// NewDBCompletionLog creates a completion log for family backed by db
func NewDBCompletionLog(db *gorm.DB, family string) *DBCompletionLog {
	return &DBCompletionLog{db: db, family: family}
}

// Completed returns the logged table names for database
func (l *DBCompletionLog) Completed(ctx context.Context, database string) (map[string]bool, error) {
	var tables []string
	err := l.db.WithContext(ctx).Model(&ExportCompletion{}).
		Where("database_name = ? AND family = ?", database, l.family).
		Pluck("table_name", &tables).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read completion log for %s: %w", database, err)
	}

	done := make(map[string]bool, len(tables))
	for _, t := range tables {
		done[t] = true
	}
	return done, nil
}

// Append records ref as completed
func (l *DBCompletionLog) Append(ctx context.Context, ref source.TableRef) error {
	row := ExportCompletion{
		Database:    ref.Database,
		Family:      l.family,
		Table:       ref.Table,
		CompletedAt: time.Now(),
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append %s to completion log: %w", ref, err)
	}
	return nil
}
