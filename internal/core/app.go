package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"invitebot/internal/config"
	"invitebot/internal/health"
	"invitebot/internal/invite"
	"invitebot/internal/services/broadcast"
	"invitebot/internal/services/scheduler"
	"invitebot/internal/settings"
	"invitebot/internal/transport"
	"invitebot/internal/transport/telegram"
	"invitebot/pkg/logx"
)

const updateChanSize = 128

// App owns every long-lived component and their start/stop ordering.
type App struct {
	cfg config.Config

	logs *logx.Service
	log  logx.Logger

	adapter  *telegram.Adapter
	sched    *scheduler.Service
	settings *settings.Store
	invites  *invite.Manager
	bcast    *broadcast.Service
	health   *health.Server
	cmdm     *CommandManager
	overlay  *config.Manager

	updates   chan transport.Update
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func NewApp(cfg config.Config) (*App, error) {
	logs, log := logx.New(logx.Config{
		Level:   cfg.LogLevel,
		Console: true,
		File:    logx.FileConfig{Enabled: cfg.LogFile != "", Path: cfg.LogFile},
	})

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Token,
		PollTimeout: cfg.PollTimeout,
		WebhookURL:  cfg.WebhookURL,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	st, err := settings.Open(cfg.SettingsPath, cfg.DefaultExpire, log.With(logx.String("comp", "settings")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("settings store: %w", err)
	}

	sched := scheduler.New(log.With(logx.String("comp", "scheduler")))
	invites := invite.NewManager(adapter, sched, st, log.With(logx.String("comp", "invite")))
	bcast := broadcast.New(broadcast.Config{}, adapter, log.With(logx.String("comp", "broadcast")))

	app := &App{
		cfg:      cfg,
		logs:     logs,
		log:      log,
		adapter:  adapter,
		sched:    sched,
		settings: st,
		invites:  invites,
		bcast:    bcast,
		updates:  make(chan transport.Update, updateChanSize),
	}

	var ov *config.Overlay
	if cfg.OverlayPath != "" {
		app.overlay = config.NewManager(cfg.OverlayPath, log.With(logx.String("comp", "overlay")))
		app.overlay.SetValidator(func(_ context.Context, o *config.Overlay) error {
			return validateOverlay(o)
		})
		ov, err = app.overlay.Load()
		if err != nil {
			log.Warn("overlay load failed; using env config only", logx.Err(err))
		}
	}

	app.cmdm = NewCommandManager(log.With(logx.String("comp", "commands")), adapter, cfg.Owners(ov))
	NewHandlers(cfg, adapter, invites, bcast, st, log.With(logx.String("comp", "handlers"))).RegisterAll(app.cmdm)

	// Webhook mode: platform updates ride on the same listener as the
	// keep-alive endpoints.
	webhookPath := ""
	if cfg.WebhookURL != "" {
		webhookPath = "/" + cfg.Token
	}
	app.health = health.New(cfg.Port, webhookPath, adapter.WebhookHandler(), log.With(logx.String("comp", "http")))

	if ov != nil {
		app.applyOverlay(ov)
	}
	return app, nil
}

func validateOverlay(ov *config.Overlay) error {
	if ov == nil {
		return nil
	}
	if ov.LogLevel != "" {
		switch logx.ParseLevel(ov.LogLevel, -99) {
		case logx.LevelDebug, logx.LevelInfo, logx.LevelWarn, logx.LevelError:
		default:
			return fmt.Errorf("log_level: unknown level %q", ov.LogLevel)
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.sched.Start(rctx)
	a.health.Start(rctx)

	if err := a.adapter.Start(rctx, a.updates); err != nil {
		cancel()
		return fmt.Errorf("start transport: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cmdm.DispatchLoop(rctx, a.updates)
	}()

	if a.overlay != nil {
		sub := a.overlay.Subscribe(1)
		a.wg.Add(2)
		go func() {
			defer a.wg.Done()
			_ = a.overlay.Watch(rctx)
		}()
		go func() {
			defer a.wg.Done()
			for {
				select {
				case <-rctx.Done():
					return
				case ov, ok := <-sub:
					if !ok {
						return
					}
					a.applyOverlay(ov)
				}
			}
		}()
	}

	// Periodic activity summary; keeps long-running deployments observable
	// from plain logs.
	_ = a.sched.AddEvery("activity-summary", 10*time.Minute, func(context.Context) {
		snap := a.invites.Stats()
		a.log.Info("activity summary",
			logx.Int("active_links", a.invites.ActiveCount()),
			logx.Int("pending_expiries", a.sched.PendingOnce()),
			logx.Uint64("links_issued", snap.LinksIssued),
			logx.Uint64("chats_served", uint64(snap.ChatsServed)),
		)
	})

	a.log.Info("bot started",
		logx.Int64("bot_id", a.adapter.BotID()),
		logx.String("username", a.adapter.BotUsername()),
		logx.Bool("webhook", a.cfg.WebhookURL != ""),
	)
	return nil
}

// applyOverlay pushes hot-reloadable knobs into the running components.
func (a *App) applyOverlay(ov *config.Overlay) {
	if ov == nil {
		return
	}

	level := a.cfg.LogLevel
	if ov.LogLevel != "" {
		level = ov.LogLevel
	}
	a.logs.Apply(logx.Config{
		Level:   level,
		Console: true,
		File:    logx.FileConfig{Enabled: a.cfg.LogFile != "", Path: a.cfg.LogFile},
	})

	if raw := ov.DefaultExpire; raw != "" {
		if d, err := config.ParseDurationField("default_expire", raw); err == nil {
			a.settings.SetDefault(d)
		}
	}

	a.cmdm.SetOwners(a.cfg.Owners(ov))
	a.log.Info("overlay applied", logx.String("log_level", level), logx.Int("owners", len(a.cfg.Owners(ov))))
}

// Stop shuts components down in reverse order: transport first so no new
// updates arrive, then the dispatcher drains, then the timers and stores.
func (a *App) Stop(ctx context.Context) {
	if a.runCancel != nil {
		a.runCancel()
	}

	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("transport stop", logx.Err(err))
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("dispatcher drain cancelled", logx.Err(ctx.Err()))
	}

	a.sched.Stop(ctx)
	if err := a.health.Stop(ctx); err != nil {
		a.log.Warn("http stop", logx.Err(err))
	}
	if err := a.settings.Close(); err != nil {
		a.log.Warn("settings close", logx.Err(err))
	}

	a.log.Info("bot stopped")
	a.logs.Close()
}
