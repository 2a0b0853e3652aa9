// Package notify fans a notification out to email, WhatsApp and push.
//
// Dispatch is fire-and-forget: callers hand a Recipient and a Notification
// to Dispatcher.Notify and move on. Each channel is attempted independently
// with its own timeout, and failures are only logged. Business operations
// such as a payout run or a subscription sweep never fail because a message
// could not be delivered.
//
// Channels are optional. A Dispatcher built without a WhatsApp or push
// sender skips those channels silently, and a recipient without a phone
// number or device token is skipped for the matching channel.
package notify
