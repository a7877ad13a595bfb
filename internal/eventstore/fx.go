package eventstore

import (
	"github.com/smallbiznis/orderhub/internal/eventstore/repository"
	"github.com/smallbiznis/orderhub/internal/eventstore/service"
	"go.uber.org/fx"
)

var Module = fx.Module("eventstore.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
