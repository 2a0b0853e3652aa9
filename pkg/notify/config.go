package notify

import "time"

// Config holds credentials for the external channels.
// Empty credentials disable the matching channel.
type Config struct {
	TwilioAccountSID   string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string `env:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppFrom string `env:"TWILIO_WHATSAPP_FROM"`

	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`

	SendTimeout time.Duration `env:"NOTIFY_SEND_TIMEOUT" envDefault:"15s"`
}

func (c Config) WhatsAppEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioWhatsAppFrom != ""
}

func (c Config) PushEnabled() bool {
	return c.FirebaseCredentialsFile != ""
}
