// Package payout computes monthly compensation for agents and channel
// partners from bookings, attendance and commission rules.
//
// A run for one month backfills agent commission logs, creates agent payouts
// that do not exist yet, reconciles every agent payout of the month against
// the logs and then settles partners. Every row has a natural key enforced by
// the Store, which makes repeated runs safe.
package payout
