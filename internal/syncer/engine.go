// Package syncer pushes queued local progress to the server and pulls remote changes back.
package syncer

import (
	"context"
	"sync"
	"time"

	"reactionmap/progress/internal/api"
	"reactionmap/progress/internal/localstore"
)

type Status string

const (
	StatusSynced  Status = "synced"
	StatusOffline Status = "offline"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

type Result struct {
	Status     Status     `json:"status"`
	Reason     string     `json:"reason"`
	Saved      int        `json:"saved"`
	Loaded     int        `json:"loaded"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// API is the part of the progress server the engine talks to.
type API interface {
	Save(ctx context.Context, token string, updates []api.ProgressUpdate) (api.SaveResponse, error)
	Load(ctx context.Context, token string, since *time.Time) (api.LoadResponse, error)
}

type TokenSource interface {
	Token() string
}

type Connectivity interface {
	Online(ctx context.Context) bool
}

type operation struct {
	done   chan struct{}
	result Result
}

type Engine struct {
	api      API
	progress *localstore.ProgressStore
	tokens   TokenSource
	online   Connectivity

	mu      sync.Mutex
	current *operation
}

func NewEngine(client API, progress *localstore.ProgressStore, tokens TokenSource, online Connectivity) *Engine {
	if online == nil {
		online = AlwaysOnline{}
	}
	return &Engine{api: client, progress: progress, tokens: tokens, online: online}
}

// Running reports whether a sync is in flight.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Sync runs one push/pull cycle. Callers arriving while a cycle is running share its result.
// A started cycle runs to completion even if every caller gives up waiting.
func (e *Engine) Sync(ctx context.Context, reason string) Result {
	if reason == "" {
		reason = "manual"
	}

	e.mu.Lock()
	op := e.current
	if op == nil {
		op = &operation{done: make(chan struct{})}
		e.current = op
		go e.execute(context.WithoutCancel(ctx), op, reason)
	}
	e.mu.Unlock()

	select {
	case <-op.done:
		return op.result
	case <-ctx.Done():
		return Result{Status: StatusError, Reason: reason, Error: ctx.Err().Error()}
	}
}

func (e *Engine) execute(ctx context.Context, op *operation, reason string) {
	result, err := e.run(ctx, reason)
	if err != nil {
		result = Result{Status: StatusError, Reason: reason, Error: message(err)}
	}
	op.result = result

	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
	close(op.done)
}

func (e *Engine) run(ctx context.Context, reason string) (Result, error) {
	if !e.online.Online(ctx) {
		return Result{Status: StatusOffline, Reason: reason}, nil
	}
	token := e.tokens.Token()
	if token == "" {
		return Result{Status: StatusSkipped, Reason: reason}, nil
	}

	cursor := e.progress.LastSyncAt()
	pending := e.progress.PendingUpdates()
	var pushedAt *time.Time

	if pending.Len() > 0 {
		resp, err := e.api.Save(ctx, token, pending.Updates)
		if err != nil {
			return Result{}, err
		}
		if err := e.progress.ApplySaveAck(resp, pending); err != nil {
			return Result{}, err
		}
		pushedAt = &resp.UpdatedAt
	}

	loaded, err := e.api.Load(ctx, token, cursor)
	if err != nil {
		return Result{}, err
	}
	merged, err := e.progress.MergeRemote(loaded.Progress)
	if err != nil {
		return Result{}, err
	}

	next := latest(cursor, pushedAt, merged.LatestRemoteAt)
	if next != nil {
		if err := e.progress.SetLastSyncAt(next); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Status:     StatusSynced,
		Reason:     reason,
		Saved:      pending.Len(),
		Loaded:     len(loaded.Progress),
		LastSyncAt: next,
	}, nil
}

func latest(values ...*time.Time) *time.Time {
	var out *time.Time
	for _, v := range values {
		if v != nil && (out == nil || v.After(*out)) {
			out = v
		}
	}
	return out
}

func message(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unable to sync."
}
