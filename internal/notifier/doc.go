// Package notifier delivers outbound chat messages.
//
// Every send passes a token-bucket limiter and is retried with exponential
// backoff. A send may carry a key; a key that was delivered within the dedup
// window is suppressed. Keys are persisted, so a job that fires again after a
// crash does not deliver twice.
package notifier
