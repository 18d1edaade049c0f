package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/scribe/pkg/agent"
)

// Registry owns the channel runtimes and maps channel ids to them.
//
// A channel id "<name>:<rest>" belongs to the channel registered as name.
// Any other id belongs to the fallback channel.
type Registry struct {
	fallback string

	mu     sync.RWMutex
	order  []*entry // registration order
	byName map[string]*entry
}

type entry struct {
	ch      Channel
	running bool
}

// NewRegistry returns an empty registry. The fallback channel may be
// registered later.
func NewRegistry(fallback string) *Registry {
	return &Registry{
		fallback: strings.TrimSpace(fallback),
		byName:   make(map[string]*entry),
	}
}

func (r *Registry) Register(ch Channel) error {
	if ch == nil {
		return errors.New("channel is required")
	}
	name := strings.TrimSpace(ch.Name())
	if name == "" {
		return errors.New("channel name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("channel %q already registered", name)
	}
	e := &entry{ch: ch}
	r.byName[name] = e
	r.order = append(r.order, e)
	return nil
}

func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

// IsStarted reports whether the named channel is running.
func (r *Registry) IsStarted(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[strings.TrimSpace(name)]
	return ok && e.running
}

// Names lists the channels in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	for i, e := range r.order {
		names[i] = e.ch.Name()
	}
	return names
}

// Owner returns the channel that serves channelID.
func (r *Registry) Owner(channelID string) (Channel, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, errors.New("channel id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if prefix, _, found := strings.Cut(channelID, ":"); found {
		if e, ok := r.byName[prefix]; ok {
			return e.ch, nil
		}
	}
	if e, ok := r.byName[r.fallback]; ok {
		return e.ch, nil
	}
	return nil, fmt.Errorf("no channel registered for %q", channelID)
}

// Transport binds channelID to a transport of its owning channel.
func (r *Registry) Transport(channelID string) (agent.Transport, error) {
	ch, err := r.Owner(channelID)
	if err != nil {
		return nil, err
	}
	return ch.Transport(strings.TrimSpace(channelID))
}

// StartAll starts the channels in registration order. If one fails, those
// it already started are stopped again and the error is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	var started []*entry
	for _, e := range r.entries() {
		ok, err := r.start(ctx, e)
		if err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = r.stop(ctx, started[i])
			}
			return err
		}
		if ok {
			started = append(started, e)
		}
	}
	return nil
}

// StopAll stops the running channels in reverse registration order and
// returns the first error.
func (r *Registry) StopAll(ctx context.Context) error {
	entries := r.entries()
	var firstErr error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := r.stop(ctx, entries[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*entry(nil), r.order...)
}

// start reports whether it started e; a running entry is left alone.
func (r *Registry) start(ctx context.Context, e *entry) (bool, error) {
	r.mu.RLock()
	running := e.running
	r.mu.RUnlock()
	if running {
		return false, nil
	}

	if err := e.ch.Start(ctx); err != nil {
		return false, fmt.Errorf("failed to start channel %q: %w", e.ch.Name(), err)
	}
	r.setRunning(e, true)
	return true, nil
}

func (r *Registry) stop(ctx context.Context, e *entry) error {
	r.mu.RLock()
	running := e.running
	r.mu.RUnlock()
	if !running {
		return nil
	}

	// A failed Stop still counts as stopped so shutdown is not retried forever.
	r.setRunning(e, false)
	if err := e.ch.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop channel %q: %w", e.ch.Name(), err)
	}
	return nil
}

func (r *Registry) setRunning(e *entry, running bool) {
	r.mu.Lock()
	e.running = running
	r.mu.Unlock()
}
