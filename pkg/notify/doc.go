// Package notify delivers alerts and outbound webhooks.
//
// Webhooks are fire-and-forget from the caller's point of view but are
// delivered with a per-attempt timeout, a bounded number of attempts with
// exponential backoff, and a shared rate limiter so a burst of matching
// policies cannot flood a receiver.
package notify
