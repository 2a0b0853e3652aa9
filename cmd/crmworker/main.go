// Command crmworker runs the background engines of the CRM: subscription
// reconciliation, outbound webhook retries and the monthly payout run, plus
// a small HTTP surface for health checks and the payment gateway webhook.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/estatecrm/internal/api"
	"github.com/dmitrymomot/estatecrm/internal/pgstore"
	"github.com/dmitrymomot/estatecrm/internal/s3usage"
	"github.com/dmitrymomot/estatecrm/pkg/config"
	"github.com/dmitrymomot/estatecrm/pkg/email"
	"github.com/dmitrymomot/estatecrm/pkg/httpserver"
	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/notify"
	"github.com/dmitrymomot/estatecrm/pkg/periodic"
	"github.com/dmitrymomot/estatecrm/pkg/pg"
	"github.com/dmitrymomot/estatecrm/pkg/razorpay"
	"github.com/dmitrymomot/estatecrm/pkg/redis"
	"github.com/dmitrymomot/estatecrm/pkg/webhook"
	"github.com/dmitrymomot/estatecrm/svc/payout"
	"github.com/dmitrymomot/estatecrm/svc/subscription"
	"github.com/dmitrymomot/estatecrm/svc/webhookqueue"
)

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.ServiceName),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("worker stopped")
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	var (
		pgCfg     pg.Config
		redisCfg  redis.Config
		httpCfg   httpserver.Config
		mailCfg   email.Config
		notifyCfg notify.Config
		rzpCfg    razorpay.Config
		s3Cfg     s3usage.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&pgCfg) },
		func() error { return config.Load(&redisCfg) },
		func() error { return config.Load(&httpCfg) },
		func() error { return config.Load(&mailCfg) },
		func() error { return config.Load(&notifyCfg) },
		func() error { return config.Load(&rzpCfg) },
		func() error { return config.Load(&s3Cfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, pgCfg, pgstore.Migrations, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer rdb.Close()
	locker := redis.NewLocker(rdb, redisCfg.LockPrefix)

	notifier, closeNotifier, err := newNotifier(mailCfg, notifyCfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	subStore := pgstore.NewSubscriptionStore(pool)
	if err := seedPlans(ctx, cfg.PlansFile, subStore, log); err != nil {
		return err
	}

	subOpts := []subscription.ServiceOption{
		subscription.WithCounter(subscription.ResourceAgents, pgstore.AgentCounter(pool)),
		subscription.WithCounter(subscription.ResourceLeads, pgstore.LeadCounter(pool)),
		subscription.WithNotifier(notifier, pgstore.TenantRecipient(pool)),
		subscription.WithLogger(log),
	}
	if !cfg.QuotaFailOpen {
		subOpts = append(subOpts, subscription.WithQuotaErrorPolicy(subscription.FailClosed))
	}
	if s3Cfg.Enabled() {
		usage, err := s3usage.New(ctx, s3Cfg)
		if err != nil {
			return err
		}
		subOpts = append(subOpts, subscription.WithCounter(subscription.ResourceStorage, usage.CounterFunc()))
	} else {
		log.Warn("S3_BUCKET is not set, storage quota checks fall back to the quota error policy")
	}
	if rzpCfg.KeyID != "" {
		gateway, err := razorpay.New(rzpCfg)
		if err != nil {
			return err
		}
		subOpts = append(subOpts, subscription.WithGateway(gateway))
	}
	subs := subscription.NewService(subStore, subOpts...)

	payouts := payout.NewEngine(pgstore.NewPayoutStore(pool),
		payout.WithNotifier(notifier),
		payout.WithStrictCommissionRules(cfg.CommissionParseStrict),
		payout.WithLogger(log),
	)

	webhooks := webhookqueue.NewEngine(pgstore.NewWebhookStore(pool),
		webhook.NewDeliverer(webhook.WithUserAgent(cfg.ServiceName)),
		webhookqueue.WithBatchSize(cfg.WebhookBatchSize),
		webhookqueue.WithMaxRetries(cfg.WebhookMaxRetries),
		webhookqueue.WithTimeout(cfg.WebhookTimeout),
		webhookqueue.WithRetention(cfg.WebhookRetention),
		webhookqueue.WithSigningSecret(cfg.WebhookSigningSecret),
		webhookqueue.WithLogger(log),
	)

	jobs := periodic.New(periodic.WithLogger(log))
	for _, j := range []struct {
		name     string
		interval time.Duration
		fn       periodic.Func
	}{
		{"subscriptions.reconcile", cfg.SubscriptionInterval, func(ctx context.Context) error {
			_, err := subs.ReconcileAll(ctx)
			return err
		}},
		{"webhooks.retry", cfg.WebhookInterval, func(ctx context.Context) error {
			_, err := webhooks.RunCycle(ctx)
			return err
		}},
		{"payouts.monthly", cfg.PayoutInterval, func(ctx context.Context) error {
			_, err := payouts.ProcessPreviousMonth(ctx)
			return err
		}},
	} {
		// The lease outlives one interval so a slow run on one replica is
		// never overlapped by a tick on another.
		err := jobs.Add(j.name, j.interval, j.fn,
			periodic.WithLock(locker, j.interval*2))
		if err != nil {
			return err
		}
	}

	router := api.Router(api.Deps{
		Subscriptions: subs,
		Webhooks:      webhooks,
		Payouts:       payouts,
		WebhookSecret: rzpCfg.WebhookSecret,
		QueueSecret:   cfg.WebhookSigningSecret,
		Checks: map[string]httpserver.Check{
			"postgres": pg.Healthcheck(pool),
			"redis":    redis.Healthcheck(rdb),
		},
		Logger: log,
	})
	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return jobs.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx, router) })
	return g.Wait()
}

func newNotifier(mailCfg email.Config, cfg notify.Config, log *slog.Logger) (*notify.Dispatcher, func(), error) {
	mailer, err := email.New(mailCfg, log)
	if err != nil {
		return nil, nil, err
	}
	opts := []notify.Option{
		notify.WithEmail(mailer),
		notify.WithTimeout(cfg.SendTimeout),
		notify.WithLogger(log),
	}
	if cfg.WhatsAppEnabled() {
		wa, err := notify.NewTwilioWhatsApp(cfg)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, notify.WithWhatsApp(wa))
	}

	var push *notify.FCMPush
	if cfg.PushEnabled() {
		if push, err = notify.NewFCMPush(cfg); err != nil {
			return nil, nil, err
		}
		opts = append(opts, notify.WithPush(push))
	}

	d := notify.NewDispatcher(opts...)
	return d, func() {
		d.Wait()
		if push != nil {
			if err := push.Close(); err != nil {
				log.Error("failed to close push client", logger.Error(err))
			}
		}
	}, nil
}

func seedPlans(ctx context.Context, path string, store *pgstore.SubscriptionStore, log *slog.Logger) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open plans file: %w", err)
	}
	defer f.Close()

	plans, err := subscription.LoadPlansYAML(f)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if err := store.UpsertPlan(ctx, p); err != nil {
			return fmt.Errorf("seed plan %q: %w", p.ID, err)
		}
	}
	log.Info("subscription plans seeded", slog.Int("count", len(plans)))
	return nil
}
