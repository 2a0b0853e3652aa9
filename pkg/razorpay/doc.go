// Package razorpay wraps the Razorpay payment gateway: order creation,
// payment lookup, checkout signature checks and webhook parsing.
//
// Amounts cross the package boundary as decimal rupees and are converted
// to paise only when talking to the gateway.
package razorpay
