package app

import (
	"context"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"
	"log/slog"

	"github.com/0xBitWishper/buybots/bot/chain"
	"github.com/0xBitWishper/buybots/bot/notify"
	"github.com/0xBitWishper/buybots/bot/setup"
	"github.com/0xBitWishper/buybots/bot/store"
	"github.com/0xBitWishper/buybots/bot/watch"
	coreconfig "github.com/0xBitWishper/buybots/core/config"
	"github.com/0xBitWishper/buybots/core/logger"
	tg "github.com/0xBitWishper/buybots/core/telegram"
	"github.com/0xBitWishper/buybots/core/telegram/router"
)

// App wires the domain components to the Telegram runtime.
type App struct {
	cfg       *coreconfig.Config
	store     store.Store
	chain     chain.Client
	transport *Transport
	notifier  *notify.Notifier
	manager   *watch.Manager
	flow      *setup.Flow
	registry  *tg.Registry
}

// New assembles the application graph on top of an open database pool.
func New(cfg *coreconfig.Config, db *sqlx.DB) *App {
	st := store.NewPostgres(db)
	return build(cfg, st, chain.NewEVM(cfg.Networks))
}

// build is the transport-independent assembly, shared with tests.
func build(cfg *coreconfig.Config, st store.Store, cl chain.Client) *App {
	transport := NewTransport()
	notifier := notify.New(cfg.Networks, cfg.Notify, transport)
	manager := watch.NewManager(cl, st, notifier)
	flow := setup.NewFlow(st, cl, manager, cfg.Networks)

	a := &App{
		cfg:       cfg,
		store:     st,
		chain:     cl,
		transport: transport,
		notifier:  notifier,
		manager:   manager,
		flow:      flow,
		registry:  tg.NewRegistry(),
	}
	a.registerCommands()
	a.registerCallbacks()
	return a
}

// RunOptions builds the Telegram runtime configuration: middleware chain,
// routes, and the lifecycle hooks that bind the transport and restore
// subscriptions.
func (a *App) RunOptions() tg.RunOptions {
	routes := router.CommandRoutes(a.registry, router.CommandRouteOptions{
		AdminID: a.cfg.Telegram.AdminID,
	})
	routes = append(routes, router.CallbackRoute(a.registry, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(&flowAdapter{a}, a.registry, router.TextOptions{})...)

	return tg.RunOptions{
		Config:      a.cfg,
		Registry:    a.registry,
		Middlewares: tg.DefaultMiddlewares(a.cfg, nil),
		Routes:      routes,

		OnStart: func(ctx context.Context, rt tg.Runtime) error {
			a.transport.Bind(rt.Bot, rt.Dispatcher)
			if err := a.manager.RestoreAll(ctx); err != nil {
				// degraded start: failing groups are already logged per group
				logger.Watch.Warn("restore finished with failures",
					slog.String("event", "restore"),
					slog.String("err", err.Error()),
				)
			}
			return nil
		},
		OnStop: func(ctx context.Context, rt tg.Runtime) error {
			a.manager.ShutdownAll(ctx)
			if evm, ok := a.chain.(*chain.EVM); ok {
				evm.Close()
			}
			return nil
		},
	}
}

// flowAdapter bridges the setup flow into the text/photo router.
type flowAdapter struct {
	app *App
}

func (f *flowAdapter) InProgress(chatID int64) bool {
	return f.app.flow.InProgress(chatID)
}

func (f *flowAdapter) FlowHandler(c tele.Context) error {
	return f.app.handleFlowMessage(c)
}
