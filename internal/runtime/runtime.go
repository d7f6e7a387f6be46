// Package runtime wires a Config into a running Kernel: it builds the
// state-store backend, constructs the configured adapters, starts any
// gateway-based adapter's persistent connection, serves the
// webhook-based adapters' HandleWebhook endpoints over gin, and runs
// the configured periodic tasks.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/duskrail/switchboard/adapters/discord"
	"github.com/duskrail/switchboard/adapters/github"
	"github.com/duskrail/switchboard/adapters/slack"
	"github.com/duskrail/switchboard/internal/adapter"
	"github.com/duskrail/switchboard/internal/config"
	"github.com/duskrail/switchboard/internal/emoji"
	"github.com/duskrail/switchboard/internal/kernel"
	"github.com/duskrail/switchboard/internal/logging"
	"github.com/duskrail/switchboard/internal/registry"
	"github.com/duskrail/switchboard/internal/scheduler"
	"github.com/duskrail/switchboard/internal/state"
	"github.com/duskrail/switchboard/state/gormstate"
	"github.com/duskrail/switchboard/state/memory"
	"github.com/duskrail/switchboard/state/redisstate"
)

// shutdownGrace bounds how long Run waits for the HTTP server to drain
// in-flight webhook requests before abandoning the shutdown.
const shutdownGrace = 10 * time.Second

var timeNow = time.Now

// Runtime holds the constructed kernel, adapters, and HTTP surface for
// one configured deployment.
type Runtime struct {
	Kernel   *kernel.Kernel
	Adapters map[string]adapter.Adapter
	Router   *gin.Engine
	sched    *scheduler.Scheduler
	logger   logging.Logger
}

// Build constructs a Runtime from cfg, wiring handlers via register
// (called with the Kernel's registry before any adapter is connected,
// so handlers are in place before the first event can arrive) and
// tasks for any periodic background jobs.
func Build(cfg *config.Config, register func(*registry.Registry), tasks []scheduler.Task) (*Runtime, error) {
	logger := logging.New(logging.ParseLevel(cfg.Logger.Level), nil)

	store, err := buildStore(cfg.State)
	if err != nil {
		return nil, err
	}

	emojiReg := emoji.New()
	reg := registry.New(emojiReg)
	if register != nil {
		register(reg)
	}

	k := kernel.New(store, reg, emojiReg, kernel.WithLogger(logger))

	adapters := make(map[string]adapter.Adapter, len(cfg.Adapters))
	for name, ac := range cfg.Adapters {
		a, err := buildAdapter(name, ac, cfg.UserName, logger)
		if err != nil {
			return nil, err
		}
		a.Initialize(k)
		adapters[name] = a
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	for name, ac := range cfg.Adapters {
		a := adapters[name]
		path := ac.WebhookPath
		if path == "" {
			path = "/webhooks/" + name
		}
		router.POST(path, webhookHandler(a, logger))
	}

	return &Runtime{
		Kernel:   k,
		Adapters: adapters,
		Router:   router,
		sched:    scheduler.New(tasks, logger),
		logger:   logger,
	}, nil
}

// Run starts every gateway-based adapter's persistent connection, the
// periodic task scheduler, and the webhook HTTP server, blocking until
// ctx is canceled.
func (r *Runtime) Run(ctx context.Context, addr string) error {
	for name, a := range r.Adapters {
		type connector interface{ Connect(ctx context.Context) error }
		if c, ok := a.(connector); ok {
			if err := c.Connect(ctx); err != nil {
				return fmt.Errorf("runtime: connect adapter %s: %w", name, err)
			}
		}
	}

	go r.sched.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: r.Router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("runtime: shutdown: %w", err)
		}
		r.Kernel.Shutdown()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("runtime: serve: %w", err)
		}
		return nil
	}
}

func webhookHandler(a adapter.Adapter, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		req := adapter.WebhookRequest{
			Method:  c.Request.Method,
			Headers: c.Request.Header,
			Body:    body,
			Now:     timeNow(),
		}
		resp, err := a.HandleWebhook(c.Request.Context(), req, adapter.RequestOptions{})
		if err != nil {
			logger.Error("runtime: webhook handling failed", "adapter", a.Name(), "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		c.Data(status, "application/json", resp.Body)
	}
}

func buildStore(cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil
	case "redis":
		return redisstate.NewFromURL(cfg.RedisURL)
	case "gorm":
		db, err := openGormDB(cfg)
		if err != nil {
			return nil, err
		}
		return gormstate.New(db)
	default:
		return nil, fmt.Errorf("runtime: unrecognized state backend %q", cfg.Backend)
	}
}

func openGormDB(cfg config.StateConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	default:
		return nil, fmt.Errorf("runtime: unrecognized gorm driver %q", cfg.Driver)
	}
}

func buildAdapter(name string, ac config.AdapterConfig, userName string, logger logging.Logger) (adapter.Adapter, error) {
	switch ac.Kind {
	case "discord":
		return discord.New(discord.Options{BotToken: ac.BotToken, UserName: userName, Logger: logger})
	case "slack":
		return slack.New(slack.Options{BotToken: ac.BotToken, SigningSecret: ac.SigningSecret, UserName: userName, Logger: logger})
	case "github":
		return github.New(github.Options{Token: ac.BotToken, WebhookSecret: ac.SigningSecret, UserName: userName, Logger: logger})
	default:
		return nil, fmt.Errorf("runtime: adapter %s: unrecognized kind %q", name, ac.Kind)
	}
}
