package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/clock"
	"github.com/smallbiznis/orderhub/internal/config"
	"github.com/smallbiznis/orderhub/internal/dispatcher"
	"github.com/smallbiznis/orderhub/internal/eventstore"
	"github.com/smallbiznis/orderhub/internal/migration"
	"github.com/smallbiznis/orderhub/internal/observability"
	"github.com/smallbiznis/orderhub/internal/order"
	"github.com/smallbiznis/orderhub/internal/product"
	"github.com/smallbiznis/orderhub/internal/reporting"
	"github.com/smallbiznis/orderhub/internal/subscription"
	"github.com/smallbiznis/orderhub/pkg/db"
	"go.uber.org/fx"
)

// The dispatcher binary runs the poll loop only. No HTTP server here; run as
// a single replica per environment unless redis locks are configured.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		eventstore.Module,
		subscription.Module,
		dispatcher.Module,

		// Producer contexts are wired for their consumers: the projector
		// needs the orders repositories, the rollup needs reporting's.
		product.Module,
		order.Module,
		reporting.Module,

		fx.Invoke(dispatcher.StartDispatcher),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
