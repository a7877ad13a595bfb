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
	"github.com/smallbiznis/orderhub/internal/server"
	"github.com/smallbiznis/orderhub/internal/subscription"
	"github.com/smallbiznis/orderhub/pkg/db"
	"go.uber.org/fx"
)

// The API binary serves HTTP only. The dispatcher is wired so ops can trigger
// a cycle on demand, but no poll loop runs here.
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

		product.Module,
		order.Module,
		reporting.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
