package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/wipline/internal/audit"
	auditdomain "github.com/smallbiznis/wipline/internal/audit/domain"
	"github.com/smallbiznis/wipline/internal/authorization"
	"github.com/smallbiznis/wipline/internal/clock"
	"github.com/smallbiznis/wipline/internal/config"
	"github.com/smallbiznis/wipline/internal/finance"
	financedomain "github.com/smallbiznis/wipline/internal/finance/domain"
	"github.com/smallbiznis/wipline/internal/identity"
	identitydomain "github.com/smallbiznis/wipline/internal/identity/domain"
	"github.com/smallbiznis/wipline/internal/invoice"
	invoicedomain "github.com/smallbiznis/wipline/internal/invoice/domain"
	"github.com/smallbiznis/wipline/internal/observability"
	obsmiddleware "github.com/smallbiznis/wipline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/wipline/internal/observability/metrics"
	obstracing "github.com/smallbiznis/wipline/internal/observability/tracing"
	"github.com/smallbiznis/wipline/internal/providers"
	"github.com/smallbiznis/wipline/internal/providers/pdf"
	"github.com/smallbiznis/wipline/internal/ratelimit"
	"github.com/smallbiznis/wipline/internal/scheduler"
	"github.com/smallbiznis/wipline/internal/tenant"
	tenantdomain "github.com/smallbiznis/wipline/internal/tenant/domain"
	"github.com/smallbiznis/wipline/internal/wip"
	wipdomain "github.com/smallbiznis/wipline/internal/wip/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	identity.Module,
	tenant.Module,
	wip.Module,
	invoice.Module,
	finance.Module,
	providers.Module,
	ratelimit.Module,
	scheduler.Module,
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
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
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	genID          *snowflake.Node
	clock          clock.Clock
	identitySvc    identitydomain.Service
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	tenantSvc      tenantdomain.Service
	wipSvc         wipdomain.Service
	invoiceSvc     invoicedomain.Service
	financeSvc     financedomain.Service
	scheduler      *scheduler.Scheduler
	pdfRenderer    pdf.Renderer
	invoiceLimiter *ratelimit.InvoiceGenerateLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	Clock       clock.Clock
	IdentitySvc identitydomain.Service
	AuthzSvc    authorization.Service
	AuditSvc    auditdomain.Service
	TenantSvc   tenantdomain.Service
	WipSvc      wipdomain.Service
	InvoiceSvc  invoicedomain.Service
	FinanceSvc  financedomain.Service
	Scheduler   *scheduler.Scheduler
	PDFRenderer pdf.Renderer

	InvoiceLimiter *ratelimit.InvoiceGenerateLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		genID:          p.GenID,
		clock:          p.Clock,
		identitySvc:    p.IdentitySvc,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		tenantSvc:      p.TenantSvc,
		wipSvc:         p.WipSvc,
		invoiceSvc:     p.InvoiceSvc,
		financeSvc:     p.FinanceSvc,
		scheduler:      p.Scheduler,
		pdfRenderer:    p.PDFRenderer,
		invoiceLimiter: p.InvoiceLimiter,
	}
}

func registerRoutes(s *Server) {
	s.RegisterV1Routes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterV1Routes() {
	v1 := s.engine.Group("/v1")

	// -------- WIP --------
	v1.POST("/wip/calculate", s.TokenRequired(), s.authorizeAction(authorization.ObjectWip, authorization.ActionWipCalculate), s.CalculateWip)
	v1.GET("/wip/snapshots", s.TokenRequired(), s.authorizeAction(authorization.ObjectWip, authorization.ActionWipView), s.ListWipSnapshots)

	// -------- Invoices --------
	v1.POST("/invoices/generate", s.TokenRequired(), s.authorizeAction(authorization.ObjectInvoice, authorization.ActionInvoiceGenerate), s.InvoiceGenerateRateLimit(), s.GenerateInvoice)
	v1.GET("/invoices", s.TokenRequired(), s.authorizeAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
	v1.GET("/invoices/:id", s.TokenRequired(), s.authorizeAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)
	v1.GET("/invoices/:id/pdf", s.TokenRequired(), s.authorizeAction(authorization.ObjectInvoice, authorization.ActionInvoiceDownload), s.DownloadInvoicePDF)

	// -------- Jobs --------
	// Shared internal secret, never a user token.
	v1.POST("/jobs/run-nightly", s.JobSecretRequired(), s.RunNightlyJobs)

	// -------- Audit logs --------
	v1.GET("/audit-logs", s.TokenRequired(), s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	// -------- API tokens --------
	v1.POST("/tokens", s.TokenRequired(), s.authorizeAction(authorization.ObjectAPIToken, authorization.ActionAPITokenCreate), s.CreateAPIToken)
	v1.DELETE("/tokens/:id", s.TokenRequired(), s.authorizeAction(authorization.ObjectAPIToken, authorization.ActionAPITokenRevoke), s.RevokeAPIToken)
}
