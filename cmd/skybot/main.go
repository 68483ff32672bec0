package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	botconfig "github.com/skyhighdo/skybot/config"
	"github.com/skyhighdo/skybot/internal/crm"
	"github.com/skyhighdo/skybot/internal/serverutil"
	"github.com/skyhighdo/skybot/internal/webhook"
	"github.com/skyhighdo/skybot/pkg/bitrix"
	"github.com/skyhighdo/skybot/pkg/delivery"
	"github.com/skyhighdo/skybot/pkg/dialog"
	"github.com/skyhighdo/skybot/pkg/events"
)

const reaperInterval = time.Minute

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[botconfig.BotConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("skybot"),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	pub := events.NewPublisher(srv.QueueManager(), "skybot", eventRef)
	if err := pool.Submit(ctx, func() { pub.LogEvents(ctx) }); err != nil {
		log.Fatalf("starting event log: %v", err)
	}

	bx, err := bitrix.NewClient(bitrix.Config{
		WebhookURL:   cfg.BitrixWebhookURL,
		PortalURL:    cfg.BitrixPortalURL,
		RatePerSec:   cfg.BitrixRatePerSec,
		Timeout:      cfg.DeliveryTimeout(),
		AllowPrivate: cfg.BitrixAllowPrivate,
	})
	if err != nil {
		log.Fatalf("bitrix client: %v", err)
	}

	deliverer := delivery.NewDeliverer(
		bitrix.NewMessenger(bx, cfg.BitrixBotID, cfg.BitrixClientID),
		delivery.Config{
			MaxRetries:        cfg.DeliveryMaxRetries,
			Backoff:           cfg.DeliveryBackoff(),
			CBFailThreshold:   cfg.CBFailThreshold,
			CBResetTimeoutSec: cfg.CBResetTimeoutSec,
		},
	)

	scripts, err := dialog.NewScriptLoader(cfg.ScriptPath)
	if err != nil {
		log.Fatalf("loading dialog script: %v", err)
	}
	if cfg.ScriptWatch && cfg.ScriptPath != "" {
		go func() {
			if err := scripts.WatchAndReload(ctx); err != nil {
				slog.ErrorContext(ctx, "script watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	opts := []dialog.Option{dialog.WithPublisher(pub), dialog.WithPool(pool)}
	adapter := crm.New(bx)
	if cfg.LocatorLookupEnabled {
		opts = append(opts, dialog.WithReservationFinder(adapter))
	}
	if cfg.LeadSyncEnabled {
		opts = append(opts, dialog.WithContactSyncer(adapter))
	}

	engine := dialog.NewEngine(dialog.NewMachine(scripts), dialog.NewMemoryStore(), deliverer, opts...)
	engine.StartReaper(ctx, cfg.DialogIdleTTL(), reaperInterval)

	mux := http.NewServeMux()
	webhook.NewHandler(engine, webhook.Config{
		MessageEvent: cfg.MessageEvent,
		AppToken:     cfg.BitrixAppToken,
	}).RegisterRoutes(mux)

	slog.InfoContext(ctx, "skybot starting",
		slog.String("script", scripts.Current().Name),
		slog.Bool("locator_lookup", cfg.LocatorLookupEnabled),
		slog.Bool("lead_sync", cfg.LeadSyncEnabled))

	srv.Init(ctx,
		frame.WithHTTPHandler(serverutil.H2CHandler(serverutil.RequestLogger(mux))),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
