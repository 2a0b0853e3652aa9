// Package webhook performs single outbound webhook attempts: a JSON POST with
// optional HMAC-SHA256 signing, a per-request timeout and a classified result.
//
// Retrying is not done here. Durable retries with backoff live in
// svc/webhookqueue, which persists every attempt so a crash or a restart
// never loses or repeats more than one delivery.
package webhook
