package main

import "time"

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"estatecrm-worker"`
	PlansFile   string `env:"PLANS_FILE"`

	QuotaFailOpen         bool `env:"QUOTA_FAIL_OPEN" envDefault:"true"`
	CommissionParseStrict bool `env:"COMMISSION_PARSE_STRICT" envDefault:"false"`

	SubscriptionInterval time.Duration `env:"SUBSCRIPTION_SWEEP_INTERVAL" envDefault:"1m"`
	WebhookInterval      time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"5m"`
	PayoutInterval       time.Duration `env:"PAYOUT_INTERVAL" envDefault:"24h"`

	WebhookSigningSecret string        `env:"WEBHOOK_SIGNING_SECRET"`
	WebhookBatchSize     int           `env:"WEBHOOK_BATCH_SIZE" envDefault:"50"`
	WebhookMaxRetries    int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"3"`
	WebhookTimeout       time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
	WebhookRetention     time.Duration `env:"WEBHOOK_RETENTION" envDefault:"168h"`
}
