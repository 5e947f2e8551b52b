package gateway

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Watcher periodically probes server reachability and keeps the gateway's
// online flag current. A probe only flips the flag to offline after a short
// backoff-retried burst, so one dropped packet does not count as an outage.
type Watcher struct {
	gateway  *Gateway
	interval time.Duration
}

func NewWatcher(g *Gateway, interval time.Duration) *Watcher {
	return &Watcher{gateway: g, interval: interval}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.gateway.SetOnline(w.probe(ctx))
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) probe(ctx context.Context) bool {
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := w.gateway.dispatch.Ping(pingCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	return err == nil
}
