// Package subscription keeps tenant subscriptions consistent with wall-clock
// time and gates resource creation by plan limits.
//
// Stored statuses drift as time passes: an active subscription whose end
// date is behind us is still "active" in the table until something moves it.
// Reconcile is that something. It expires lapsed subscriptions and promotes
// scheduled ones whose start date has arrived, unless the purchase was
// reversed by a cancellation or refund transaction, and it never promotes a
// second subscription while another one is still running. All transitions
// for a tenant are written in one batch.
//
// GetActive is a pure read. GetActiveSubscription reconciles first and is
// what the quota gates use:
//
//	d := svc.CanAddLead(ctx, tenantID)
//	if !d.Allowed {
//		return d.Reason
//	}
//
// Quota checks never return errors. When usage cannot be computed the
// configured QuotaErrorPolicy decides, and the default is to allow.
package subscription
