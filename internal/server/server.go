package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/smallbiznis/fakturo/internal/apikey/domain"
	"github.com/smallbiznis/fakturo/internal/config"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	dunningdomain "github.com/smallbiznis/fakturo/internal/dunning/domain"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/observability"
	obsmiddleware "github.com/smallbiznis/fakturo/internal/observability/logger"
	obstracing "github.com/smallbiznis/fakturo/internal/observability/tracing"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	"github.com/smallbiznis/fakturo/internal/ratelimit"
	shopdomain "github.com/smallbiznis/fakturo/internal/shop/domain"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	useJSONFieldNames()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine  *gin.Engine
	limiter *ratelimit.APILimiter

	userSvc     userdomain.Service
	apiKeySvc   apikeydomain.Service
	contractSvc contractdomain.Service
	invoiceSvc  invoicedomain.Service
	dunningSvc  dunningdomain.Service
	prepaidSvc  prepaiddomain.Service
	fileSvc     filedomain.Service
	shopSvc     shopdomain.Service
}

type ServerParams struct {
	fx.In

	Gin     *gin.Engine
	Limiter *ratelimit.APILimiter `optional:"true"`

	UserSvc     userdomain.Service
	APIKeySvc   apikeydomain.Service
	ContractSvc contractdomain.Service
	InvoiceSvc  invoicedomain.Service
	DunningSvc  dunningdomain.Service
	PrepaidSvc  prepaiddomain.Service
	FileSvc     filedomain.Service
	ShopSvc     shopdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		limiter:     p.Limiter,
		userSvc:     p.UserSvc,
		apiKeySvc:   p.APIKeySvc,
		contractSvc: p.ContractSvc,
		invoiceSvc:  p.InvoiceSvc,
		dunningSvc:  p.DunningSvc,
		prepaidSvc:  p.PrepaidSvc,
		fileSvc:     p.FileSvc,
		shopSvc:     p.ShopSvc,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired(), s.RateLimit())

	// -------- Users & API keys --------
	api.POST("/users", s.CreateUser)
	api.GET("/users/:id", s.GetUser)
	api.GET("/users/:id/api-keys", s.ListAPIKeys)
	api.POST("/api-keys", s.CreateAPIKey)
	api.DELETE("/api-keys/:key_id", s.RevokeAPIKey)

	// -------- Contracts --------
	api.GET("/contract-types", s.ListContractTypes)
	api.POST("/contract-types", s.CreateContractType)
	api.POST("/contracts", s.CreateContract)
	api.POST("/contracts/grid", s.ListContracts)
	api.GET("/contracts/:id", s.GetContract)
	api.DELETE("/contracts/:id", s.DeleteContract)
	api.POST("/contracts/:id/positions", s.AddContractPosition)
	api.DELETE("/contracts/:id/positions/:position_id", s.EndContractPosition)
	api.POST("/contracts/:id/start", s.contractTransition(s.contractSvc.Start))
	api.POST("/contracts/:id/extend", s.contractTransition(s.contractSvc.Extend))
	api.POST("/contracts/:id/stop", s.contractTransition(s.contractSvc.Stop))
	api.POST("/contracts/:id/cancel", s.contractTransition(s.contractSvc.Cancel))
	api.POST("/contracts/:id/restart", s.contractTransition(s.contractSvc.Restart))
	api.POST("/contracts/:id/revoke-cancellation", s.contractTransition(s.contractSvc.RevokeCancellation))

	// -------- Invoices --------
	api.GET("/invoice-types", s.ListInvoiceTypes)
	api.POST("/invoice-types", s.CreateInvoiceType)
	api.POST("/invoices", s.CreateInvoiceTemplate)
	api.POST("/invoices/grid", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoice)
	api.GET("/invoices/:id/history", s.GetInvoiceHistory)
	api.GET("/invoices/:id/reminders", s.ListInvoiceReminders)
	api.GET("/invoices/:id/download", s.DownloadInvoice)
	api.POST("/invoices/:id/positions", s.AddInvoicePosition)
	api.PUT("/invoices/:id/positions/:position_id", s.UpdateInvoicePosition)
	api.DELETE("/invoices/:id/positions/:position_id", s.RemoveInvoicePosition)
	api.POST("/invoices/:id/publish", s.invoiceTransition(s.invoiceSvc.Publish))
	api.POST("/invoices/:id/pay", s.invoiceTransition(s.invoiceSvc.Pay))
	api.POST("/invoices/:id/unpay", s.invoiceTransition(s.invoiceSvc.Unpay))
	api.POST("/invoices/:id/refund", s.invoiceCorrection(invoicedomain.StatusRefunded))
	api.POST("/invoices/:id/revoke", s.invoiceCorrection(invoicedomain.StatusRevoked))

	// -------- Dunning --------
	api.GET("/dunning/rules", s.ListDunningRules)
	api.POST("/dunning/rules", s.CreateDunningRule)
	api.DELETE("/dunning/rules/:id", s.DeleteDunningRule)

	// -------- Prepaid --------
	api.GET("/prepaid/balance", s.GetPrepaidBalance)
	api.POST("/prepaid/grid", s.ListPrepaidHistory)
	api.POST("/prepaid/deposits", s.DepositPrepaid)
	api.PATCH("/prepaid/:id", s.CorrectPrepaid)

	// -------- Files --------
	api.POST("/files/grid", s.ListFiles)
	api.GET("/files/:id/download", s.DownloadFile)

	// -------- Shop --------
	api.GET("/shop/forms", s.ListShopForms)
	api.POST("/shop/forms", s.CreateShopForm)
	api.GET("/shop/forms/:id", s.GetShopForm)
	api.POST("/shop/forms/:id/fields", s.AddShopField)
	api.POST("/shop/fields/:id/options", s.AddShopOption)
	api.POST("/shop/orders", s.SubmitShopOrder)
	api.POST("/shop/orders/grid", s.ListShopOrders)
	api.GET("/shop/orders/:id", s.GetShopOrder)
	api.GET("/shop/orders/:id/history", s.GetShopOrderHistory)
	api.PUT("/shop/orders/:id", s.EditShopOrder)
	api.DELETE("/shop/orders/:id", s.DeleteShopOrder)
	api.POST("/shop/orders/:id/approve", s.shopTransition(s.shopSvc.Approve))
	api.POST("/shop/orders/:id/disapprove", s.shopMessageTransition(s.shopSvc.Disapprove))
	api.POST("/shop/orders/:id/verify", s.shopTransition(s.shopSvc.Verify))
	api.POST("/shop/orders/:id/invalidate", s.shopMessageTransition(s.shopSvc.Invalidate))
	api.POST("/shop/orders/:id/setup", s.shopTransition(s.shopSvc.MarkSetup))
	api.POST("/shop/orders/:id/fail", s.shopMessageTransition(s.shopSvc.RecordFailure))
}
