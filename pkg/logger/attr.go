package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// TenantID records the tenant (channel partner organisation) identifier.
func TenantID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("tenant_id", id)
}

func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscription_id", id)
}

func AgentID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("agent_id", id)
}

func PartnerID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("partner_id", id)
}

func BookingID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("booking_id", id)
}

// EventID records an idempotency key (gateway or webhook event id).
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// Period records a payout month under the key "period".
func Period(month, year int) slog.Attr {
	return slog.Group("period", slog.Int("month", month), slog.Int("year", year))
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Job records a periodic job name.
func Job(name string) slog.Attr {
	return slog.String("job", name)
}

func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}
