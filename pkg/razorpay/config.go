package razorpay

// Config holds gateway credentials.
type Config struct {
	KeyID         string `env:"RAZORPAY_KEY_ID"`
	KeySecret     string `env:"RAZORPAY_KEY_SECRET"`
	WebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`
	Currency      string `env:"RAZORPAY_CURRENCY" envDefault:"INR"`
}
