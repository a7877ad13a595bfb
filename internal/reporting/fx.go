package reporting

import (
	"github.com/smallbiznis/orderhub/internal/dispatcher"
	"github.com/smallbiznis/orderhub/internal/reporting/repository"
	"github.com/smallbiznis/orderhub/internal/reporting/rollup"
	"go.uber.org/fx"
)

var Module = fx.Module("reporting.service",
	fx.Provide(repository.Provide),
	fx.Provide(dispatcher.AsHandler(rollup.New)),
)
