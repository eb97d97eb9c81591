package worker

import (
	"context"
	"time"

	"github.com/rs/dnscache"
)

// DefaultDNSRefreshInterval is how often cached backend addresses are re-resolved.
const DefaultDNSRefreshInterval = 5 * time.Minute

// DNSRefresher periodically refreshes a dnscache.Resolver so a backend that
// moves to new addresses is picked up without a restart.
type DNSRefresher struct {
	resolver *dnscache.Resolver
	interval time.Duration
}

// NewDNSRefresher creates a refresher. interval <= 0 means DefaultDNSRefreshInterval.
func NewDNSRefresher(resolver *dnscache.Resolver, interval time.Duration) *DNSRefresher {
	if interval <= 0 {
		interval = DefaultDNSRefreshInterval
	}
	return &DNSRefresher{resolver: resolver, interval: interval}
}

// Name identifies the worker in logs.
func (d *DNSRefresher) Name() string { return "dns_refresh" }

// Run refreshes the resolver every interval until ctx is cancelled.
// Entries not used since the previous refresh are dropped.
func (d *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.resolver.Refresh(true)
		}
	}
}
