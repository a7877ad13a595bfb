package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/orderhub/internal/config"
	"github.com/smallbiznis/orderhub/internal/dispatcher"
	eventdomain "github.com/smallbiznis/orderhub/internal/eventstore/domain"
	"github.com/smallbiznis/orderhub/internal/observability"
	obsmiddleware "github.com/smallbiznis/orderhub/internal/observability/logger"
	obstracing "github.com/smallbiznis/orderhub/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/orderhub/internal/order/domain"
	productdomain "github.com/smallbiznis/orderhub/internal/product/domain"
	reportingdomain "github.com/smallbiznis/orderhub/internal/reporting/domain"
	subdomain "github.com/smallbiznis/orderhub/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	productSvc   productdomain.Service
	orderSvc     orderdomain.Service
	eventSvc     eventdomain.Service
	subSvc       subdomain.Service
	reportingRep reportingdomain.Repository
	dispatcher   *dispatcher.Dispatcher
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	ProductSvc   productdomain.Service
	OrderSvc     orderdomain.Service
	EventSvc     eventdomain.Service
	SubSvc       subdomain.Service
	ReportingRep reportingdomain.Repository
	Dispatcher   *dispatcher.Dispatcher `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		productSvc:   p.ProductSvc,
		orderSvc:     p.OrderSvc,
		eventSvc:     p.EventSvc,
		subSvc:       p.SubSvc,
		reportingRep: p.ReportingRep,
		dispatcher:   p.Dispatcher,
	}

	svc.registerAPIRoutes()
	svc.registerOpsRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/products", s.CreateProduct)
	v1.GET("/products", s.ListProducts)
	v1.GET("/products/:id", s.GetProduct)
	v1.POST("/products/:id/price", s.ChangeProductPrice)
	v1.POST("/products/:id/reserve", s.ReserveProductStock)
	v1.POST("/products/:id/release", s.ReleaseProductStock)

	v1.POST("/orders", s.PlaceOrder)
	v1.GET("/orders", s.ListOrders)
	v1.GET("/orders/:id", s.GetOrder)
	v1.POST("/orders/:id/pay", s.PayOrder)
	v1.POST("/orders/:id/cancel", s.CancelOrder)
	v1.GET("/orders/:id/history", s.GetOrderHistory)

	v1.GET("/events", s.ListEvents)
	v1.GET("/reports/daily", s.ListDailyStats)
}

func (s *Server) registerOpsRoutes() {
	ops := s.engine.Group("/v1/subscriptions")

	ops.GET("", s.ListSubscriptions)
	ops.GET("/:name", s.GetSubscription)
	ops.POST("/dispatch", s.TriggerDispatch)
}
