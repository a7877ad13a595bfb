package migration

import (
	"github.com/smallbiznis/orderhub/internal/config"
	eventdomain "github.com/smallbiznis/orderhub/internal/eventstore/domain"
	orderdomain "github.com/smallbiznis/orderhub/internal/order/domain"
	productdomain "github.com/smallbiznis/orderhub/internal/product/domain"
	reportingdomain "github.com/smallbiznis/orderhub/internal/reporting/domain"
	subdomain "github.com/smallbiznis/orderhub/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}
		return AutoMigrate(conn)
	}),
)

// AutoMigrate builds the schema through gorm for the non-postgres dialects
// (sqlite for local runs and tests, mysql). The embedded SQL migrations stay
// authoritative for postgres deployments.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&eventdomain.StoredEvent{},
		&eventdomain.EventSequence{},
		&eventdomain.AggregateSnapshot{},
		&subdomain.Subscription{},
		&subdomain.ProcessingLogEntry{},
		&productdomain.Product{},
		&orderdomain.Order{},
		&orderdomain.ProductRef{},
		&reportingdomain.OrderDailyStat{},
	); err != nil {
		return err
	}
	return seedSequenceRow(conn)
}

// seedSequenceRow ensures the single counter row all appenders serialize on.
func seedSequenceRow(conn *gorm.DB) error {
	var count int64
	if err := conn.Model(&eventdomain.EventSequence{}).Where("id = 1").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return conn.Create(&eventdomain.EventSequence{ID: 1, Value: 0}).Error
}
