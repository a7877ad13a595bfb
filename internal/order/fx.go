package order

import (
	"github.com/smallbiznis/orderhub/internal/dispatcher"
	"github.com/smallbiznis/orderhub/internal/order/projector"
	"github.com/smallbiznis/orderhub/internal/order/repository"
	"github.com/smallbiznis/orderhub/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideProductRefs),
	fx.Provide(service.New),
	fx.Provide(dispatcher.AsHandler(projector.New)),
)
