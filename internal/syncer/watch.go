package syncer

import (
	"context"
	"time"
)

type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) bool { return true }

// Pinger is satisfied by the API client's health check.
type Pinger interface {
	Health(ctx context.Context) error
}

type probe struct {
	pinger  Pinger
	timeout time.Duration
}

// ProbeConnectivity treats the server as reachable when a health check answers within timeout.
func ProbeConnectivity(p Pinger, timeout time.Duration) Connectivity {
	return probe{pinger: p, timeout: timeout}
}

func (p probe) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.pinger.Health(ctx) == nil
}

type WatchOptions struct {
	// Interval triggers a periodic sync; zero disables it.
	Interval time.Duration
	// ConnectivityPoll is how often connectivity is checked to detect coming back online.
	ConnectivityPoll time.Duration
	// Triggers carries reasons for on-demand syncs such as "manual" or "visible".
	Triggers <-chan string
	OnResult func(Result)
}

// Watch syncs once at startup and then on every trigger until ctx is done.
func (e *Engine) Watch(ctx context.Context, opts WatchOptions) {
	report := opts.OnResult
	if report == nil {
		report = func(Result) {}
	}
	first := e.Sync(ctx, "startup")
	report(first)
	wasOnline := first.Status != StatusOffline

	var interval, poll <-chan time.Time
	if opts.Interval > 0 {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		interval = ticker.C
	}
	if opts.ConnectivityPoll > 0 {
		ticker := time.NewTicker(opts.ConnectivityPoll)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-interval:
			report(e.Sync(ctx, "interval"))
		case <-poll:
			online := e.online.Online(ctx)
			if online && !wasOnline {
				report(e.Sync(ctx, "online"))
			}
			wasOnline = online
		case reason, ok := <-opts.Triggers:
			if !ok {
				opts.Triggers = nil
				continue
			}
			report(e.Sync(ctx, reason))
		}
	}
}
