package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(logg *logger.Logger) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")

	dsn := envutil.Str("DATABASE_URL", "")
	if dsn == "" {
		postgresHost := envutil.Str("POSTGRES_HOST", "localhost")
		postgresPort := envutil.Str("POSTGRES_PORT", "5432")
		postgresUser := envutil.Str("POSTGRES_USER", "postgres")
		postgresPassword := envutil.Str("POSTGRES_PASSWORD", "")
		postgresName := envutil.Str("POSTGRES_NAME", "vidscribe")
		postgresSSLMode := envutil.Str("POSTGRES_SSLMODE", "disable")

		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			postgresUser,
			postgresPassword,
			postgresHost,
			postgresPort,
			postgresName,
			postgresSSLMode,
		)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }
