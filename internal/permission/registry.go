package permission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/rs/zerolog"
)

type pending struct {
	info    Info
	ask     AskContext
	ch      chan Resolution
	release func()
}

// Registry holds outstanding approval requests. Each request resolves exactly
// once: by Respond, by its timeout, or by cancellation of its context,
// whichever comes first. Later attempts are no-ops.
type Registry struct {
	mu        sync.Mutex
	pending   map[string]*pending
	logger    zerolog.Logger
	publisher event.Publisher
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithPublisher publishes permission.asked and permission.replied events.
func WithPublisher(p event.Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		pending: make(map[string]*pending),
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequestConfirmation registers a request and returns its id together with a
// channel that receives exactly one Resolution and is then closed. The
// request is resolved as undetermined when ctx is done or ac.Timeout passes.
func (r *Registry) RequestConfirmation(ctx context.Context, info Info, ac AskContext) (string, <-chan Resolution) {
	info.ID = ulid.Make().String()
	if info.Time.Created.IsZero() {
		info.Time.Created = r.now()
	}

	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if ac.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, ac.Timeout)
	}

	p := &pending{info: info, ask: ac, ch: make(chan Resolution, 1)}
	id := info.ID

	r.mu.Lock()
	r.pending[id] = p
	stop := context.AfterFunc(waitCtx, func() {
		r.resolve(id, Resolution{ID: id, Undetermined: true, Cause: waitCtx.Err()})
	})
	p.release = func() {
		stop()
		cancel()
	}
	r.mu.Unlock()

	r.logger.Debug().
		Str("id", id).
		Str("session", info.SessionID).
		Str("title", info.Title).
		Dur("timeout", ac.Timeout).
		Msg("permission requested")
	r.publish(event.Event{
		Type: event.PermissionAsked,
		Data: event.PermissionAskedData{
			ID:        id,
			Type:      string(info.Type),
			SessionID: info.SessionID,
			MessageID: info.MessageID,
			CallID:    info.CallID,
			Title:     info.Title,
		},
	})
	return id, p.ch
}

// Respond resolves the pending request id with resp. It reports false, and
// changes nothing, when id is not pending: unknown, already answered, timed
// out or cancelled.
func (r *Registry) Respond(id string, resp Response) bool {
	if !resp.Approves() && resp != ResponseReject {
		r.logger.Debug().Str("id", id).Str("response", string(resp)).Msg("ignoring invalid permission response")
		return false
	}
	return r.resolve(id, Resolution{ID: id, Response: resp})
}

func (r *Registry) resolve(id string, res Resolution) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug().Str("id", id).Str("resolution", res.String()).Msg("permission not pending")
		return false
	}

	p.release()
	p.ch <- res
	close(p.ch)

	r.logger.Debug().Str("id", id).Str("resolution", res.String()).Msg("permission resolved")
	r.publish(event.Event{
		Type: event.PermissionReplied,
		Data: event.PermissionRepliedData{
			PermissionID: id,
			SessionID:    p.info.SessionID,
			Response:     res.String(),
		},
	})
	return true
}

// Ask requests confirmation and blocks until it resolves. It returns nil when
// the call was approved and a *RejectedError otherwise. An expired timeout
// approves only when ac.AutoAllowOnTimeout is set.
func (r *Registry) Ask(ctx context.Context, info Info, ac AskContext) error {
	id, ch := r.RequestConfirmation(ctx, info, ac)
	info.ID = id
	res := <-ch
	if res.Approved() {
		return nil
	}
	if res.TimedOut() && ac.AutoAllowOnTimeout && ctx.Err() == nil {
		r.logger.Warn().Str("id", id).Msg("permission timed out, allowing")
		return nil
	}
	return rejection(info, res)
}

// Get returns the pending request with the given id.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return Info{}, false
	}
	return p.info, true
}

// Pending returns a snapshot of outstanding requests, oldest first.
func (r *Registry) Pending() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Created.Equal(out[j].Time.Created) {
			return out[i].Time.Created.Before(out[j].Time.Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) publish(e event.Event) {
	if r.publisher != nil {
		r.publisher.Publish(e)
	}
}
