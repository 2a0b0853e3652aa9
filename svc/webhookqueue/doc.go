// Package webhookqueue delivers outbound webhooks at least once with bounded
// exponential retries.
//
// Items move pending -> processing -> success, back to pending with a backoff
// of 1, 2, 4 ... minutes, or to failed once the first attempt and MaxRetries
// retries are spent. A claim sets a lease owner and expiry on the item, so
// several replicas can poll the same store; leases that run out are released
// at the start of the next cycle.
package webhookqueue
