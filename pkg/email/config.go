package email

// Config holds the outbound mail settings. Tokens may stay empty in
// development, in which case the worker falls back to LogSender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"no-reply@estatecrm.local"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@estatecrm.local"`
}

// Enabled reports whether Postmark credentials are present.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}
