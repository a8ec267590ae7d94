// Package runtime implements the BoxLite broker: the registry of live
// boxes, and the Router a box's stream pump calls back into to resolve
// its guest's point-to-point sends and fan out its publishes.
package runtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/strand-protocol/boxlite/pkg/box"
	"github.com/strand-protocol/boxlite/pkg/protocol"
	"github.com/strand-protocol/boxlite/pkg/sandbox"
)

// CreateOptions configures a box at creation time.
type CreateOptions struct {
	Resources      sandbox.Resources
	DeliverTimeout time.Duration

	// AutoStart, if true, calls Box.Start immediately (provisioning the
	// sandbox instance) before CreateBox returns.
	AutoStart bool
}

// WaitResult is one box's outcome from WaitAll.
type WaitResult struct {
	Exited   bool
	ExitCode int
	Err      error
}

// Runtime is the broker: a name-addressed registry of managed boxes.
// The zero value is not usable; construct with New.
type Runtime struct {
	sb sandbox.Sandbox

	mu    sync.RWMutex
	order []string
	boxes map[string]*box.Box
}

// New builds an empty Runtime backed by sb. If sb is nil, a
// sandbox.LocalProcessSandbox is used.
func New(sb sandbox.Sandbox) *Runtime {
	if sb == nil {
		sb = sandbox.NewLocalProcessSandbox()
	}
	return &Runtime{sb: sb, boxes: make(map[string]*box.Box)}
}

// CreateBox registers a new box named name. It fails with
// KindDuplicateName if that name is already registered.
func (rt *Runtime) CreateBox(ctx context.Context, name string, opts CreateOptions) (*box.Box, error) {
	rt.mu.Lock()
	if _, exists := rt.boxes[name]; exists {
		rt.mu.Unlock()
		return nil, protocol.NewError(protocol.KindDuplicateName, name)
	}
	b := box.New(name, rt, rt.sb,
		box.WithResources(opts.Resources),
		box.WithDeliverTimeout(opts.DeliverTimeout),
	)
	rt.boxes[name] = b
	rt.order = append(rt.order, name)
	rt.mu.Unlock()

	if opts.AutoStart {
		if err := b.Start(ctx); err != nil {
			rt.mu.Lock()
			delete(rt.boxes, name)
			rt.order = removeName(rt.order, name)
			rt.mu.Unlock()
			return nil, err
		}
	}
	return b, nil
}

// Box returns the registered box named name, or nil if none exists.
func (rt *Runtime) Box(name string) *box.Box {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.boxes[name]
}

// ListBoxes returns every registered box name in creation order.
func (rt *Runtime) ListBoxes() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]string, len(rt.order))
	copy(out, rt.order)
	return out
}

// Deliver implements box.Router: it looks target up in the registry and
// forwards to that box's own Deliver, failing with KindUnknownBox if no
// such box is registered.
func (rt *Runtime) Deliver(ctx context.Context, target, sender string, data json.RawMessage) (json.RawMessage, error) {
	rt.mu.RLock()
	b, ok := rt.boxes[target]
	rt.mu.RUnlock()
	if !ok {
		return nil, protocol.NewError(protocol.KindUnknownBox, target)
	}
	return b.Deliver(ctx, sender, data)
}

// Broadcast implements box.Router: it fans event out to every registered
// box except exceptName, in registry order, swallowing per-box delivery
// failures — a box that is down or not yet running simply misses the
// event, since publish is always best-effort.
func (rt *Runtime) Broadcast(event string, data json.RawMessage, exceptName string) {
	rt.mu.RLock()
	targets := make([]*box.Box, 0, len(rt.order))
	for _, name := range rt.order {
		if name == exceptName {
			continue
		}
		if b, ok := rt.boxes[name]; ok {
			targets = append(targets, b)
		}
	}
	rt.mu.RUnlock()

	for _, b := range targets {
		_ = b.SendEvent(event, data)
	}
}

// WaitAll blocks until every registered box's guest process has exited,
// or ctx is done first. Boxes that had not exited by the time ctx ends
// are reported with Exited=false.
func (rt *Runtime) WaitAll(ctx context.Context) map[string]WaitResult {
	rt.mu.RLock()
	names := append([]string(nil), rt.order...)
	boxes := make([]*box.Box, len(names))
	for i, n := range names {
		boxes[i] = rt.boxes[n]
	}
	rt.mu.RUnlock()

	type outcome struct {
		name string
		code int
		err  error
	}
	ch := make(chan outcome, len(boxes))
	for i, b := range boxes {
		go func(name string, b *box.Box) {
			code, err := b.Wait()
			ch <- outcome{name, code, err}
		}(names[i], b)
	}

	out := make(map[string]WaitResult, len(names))
	for range boxes {
		select {
		case r := <-ch:
			out[r.name] = WaitResult{Exited: true, ExitCode: r.code, Err: r.err}
		case <-ctx.Done():
			for _, n := range names {
				if _, ok := out[n]; !ok {
					out[n] = WaitResult{Exited: false}
				}
			}
			return out
		}
	}
	return out
}

// StopAll stops every registered box in parallel, swallowing individual
// errors (a box already stopped, or never started, simply no-ops).
func (rt *Runtime) StopAll(ctx context.Context) {
	rt.mu.RLock()
	boxes := make([]*box.Box, 0, len(rt.order))
	for _, n := range rt.order {
		boxes = append(boxes, rt.boxes[n])
	}
	rt.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(boxes))
	for _, b := range boxes {
		go func(b *box.Box) {
			defer wg.Done()
			_ = b.Stop(ctx)
		}(b)
	}
	wg.Wait()
}

// Shutdown stops every box and empties the registry. A Runtime is
// reusable after Shutdown: CreateBox may be called again.
func (rt *Runtime) Shutdown(ctx context.Context) {
	rt.StopAll(ctx)
	rt.mu.Lock()
	rt.boxes = make(map[string]*box.Box)
	rt.order = nil
	rt.mu.Unlock()
}

func removeName(names []string, target string) []string {
	out := names[:0]
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}
