package kernel

import (
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"git.sr.ht/~aondrejcak/panel-credits/models"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel"
)

func (art *AppRuntime) PrepareDatabase() error {
	level := logger.Warn
	if art.DeploymentEnvironment != "production" {
		level = logger.Info
	}
	dbLogger := logger.New(
		&log.Logger,
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      level,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(mysql.Open(art.DatabaseDSN), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return err
	}

	if err = db.Use(otelgorm.NewPlugin(
		otelgorm.WithAttributes(),
		otelgorm.WithTracerProvider(otel.GetTracerProvider()),
	)); err != nil {
		return err
	}

	if err = db.AutoMigrate(
		&models.Payment{},
		&models.Transaction{},
		&models.PanelConfig{},
		&models.Package{},
		&models.Reseller{},
		&models.Lease{},
	); err != nil {
		return err
	}

	art.DatabaseClient = db

	return nil
}
