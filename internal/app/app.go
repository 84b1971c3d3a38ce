// Package app wires configuration into a ready to serve WOPI host.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/allopze/cloudbox-wopi/internal/access"
	"github.com/allopze/cloudbox-wopi/internal/config"
	"github.com/allopze/cloudbox-wopi/internal/content"
	"github.com/allopze/cloudbox-wopi/internal/events"
	"github.com/allopze/cloudbox-wopi/internal/handler"
	"github.com/allopze/cloudbox-wopi/internal/logger"
	"github.com/allopze/cloudbox-wopi/internal/token"
)

// App holds the HTTP engine and everything that must be released on shutdown.
type App struct {
	engine  *gin.Engine
	closers []func() error
	tracing bool
}

// NewApp builds every component named in cfg. On error, anything already
// opened is closed.
func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger.SetLevel(cfg.Logging.Level)
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	loader := &awsLoader{}

	tokenSecret, err := resolveTokenSecret(ctx, cfg, loader)
	if err != nil {
		return nil, err
	}

	repo, closeRepo, err := createRepository(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}
	a.addCloser(closeRepo)

	locks, closeLocks, err := createLocker(ctx, &cfg.Locks, loader)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock store: %w", err)
	}
	a.addCloser(closeLocks)

	store, err := createContentStore(ctx, &cfg.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.Events.NATSURL)
		if err != nil {
			return nil, err
		}
		publisher = nc
		logger.Info("Publishing file events to %s", cfg.Events.NATSURL)
	}
	a.addCloser(func() error {
		publisher.Close()
		return nil
	})

	wopi := handler.NewWOPIHandler(handler.Deps{
		Tokens:    token.NewManager(tokenSecret),
		Gate:      access.NewGate(repo),
		Locks:     locks,
		Store:     store,
		Repo:      repo,
		Paths:     content.KeyResolver{},
		Publisher: publisher,
	}, handler.Options{
		EditEnabled:   cfg.WOPI.EditEnabled,
		MaxFileSize:   cfg.WOPI.MaxFileSize,
		PublicURL:     cfg.WOPI.PublicURL,
		BrandName:     cfg.WOPI.BrandName,
		IncludeSHA256: cfg.WOPI.IncludeSHA256,
	})

	engine := gin.New()
	engine.Use(gin.LoggerWithWriter(logger.Writer(), "/healthz"), gin.Recovery())
	if cfg.Tracing.Enabled {
		tracer.Start(tracer.WithService(cfg.Tracing.ServiceName))
		a.tracing = true
		engine.Use(gintrace.Middleware(cfg.Tracing.ServiceName))
	}
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	wopi.RegisterRoutes(engine)

	a.engine = engine
	logger.Info("WOPI host ready: edit_enabled=%t, max_file_size=%d", cfg.WOPI.EditEnabled, cfg.WOPI.MaxFileSize)
	return a, nil
}

func (a *App) addCloser(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Handler returns the HTTP handler serving the WOPI routes.
func (a *App) Handler() http.Handler {
	return a.engine
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.tracing {
		tracer.Stop()
		a.tracing = false
	}
	return errors.Join(errs...)
}
