// Package notifier turns a tracker.Kind into a Telegram message.
//
// Content comes from a Catalog of short texts picked uniformly at random.
// Primary, follow-up and test notifications carry a random image from the
// configured images directory when one is available; congratulations are
// always text. Every send goes through a token-bucket limiter and is
// attempted exactly once.
package notifier
