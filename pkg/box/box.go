// Package box implements the managed box: the host-side handle on one
// running guest process. A Box owns the guest's stdio
// pipes, the table of point-to-point requests the host has in flight
// against this guest, and the names of the task/handlers that should be
// wired into the guest when it starts.
//
// A Box never talks to other boxes directly. It calls back into a
// Router — implemented by the broker in pkg/runtime — to resolve a
// guest's own "send" frames and to fan a guest's "publish" frames out to
// the rest of the registry. This keeps box free of any dependency on the
// broker, which owns the box registry (and so would otherwise create an
// import cycle).
package box

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strand-protocol/boxlite/pkg/inject"
	"github.com/strand-protocol/boxlite/pkg/protocol"
	"github.com/strand-protocol/boxlite/pkg/sandbox"
)

// defaultDeliverTimeout is the default host->guest request timeout.
const defaultDeliverTimeout = 30 * time.Second

// Router is the callback surface a Box needs from whatever holds the
// rest of the box registry: resolving a guest's outbound "send" frames
// and fanning out its "publish" frames.
type Router interface {
	// Deliver routes a point-to-point message from sender to target,
	// blocking until target's handler replies or the call times out.
	Deliver(ctx context.Context, target, sender string, data json.RawMessage) (json.RawMessage, error)

	// Broadcast fans event out to every registered box except exceptName.
	Broadcast(event string, data json.RawMessage, exceptName string)
}

type pendingResult struct {
	result json.RawMessage
	err    error
}

// Option configures a Box at construction time.
type Option func(*Box)

// WithResources sets the resource envelope passed to the sandbox on Start.
func WithResources(r sandbox.Resources) Option {
	return func(b *Box) { b.resources = r }
}

// WithDeliverTimeout overrides the default 30-second Deliver timeout.
func WithDeliverTimeout(d time.Duration) Option {
	return func(b *Box) {
		if d > 0 {
			b.deliverTimeout = d
		}
	}
}

// Box is one named, managed guest process.
type Box struct {
	name           string
	router         Router
	sb             sandbox.Sandbox
	resources      sandbox.Resources
	deliverTimeout time.Duration

	mu      sync.Mutex
	handle  sandbox.Handle
	started bool
	stopped bool
	running bool

	exec       *sandbox.Execution
	enc        *protocol.Encoder
	pending    map[string]chan pendingResult
	cancelPump context.CancelFunc
	pumpDone   chan struct{}

	taskName      string
	msgHandlers   []string
	eventHandlers map[string][]string
}

// New builds a Box named name, routed through router, backed by sb. The
// box is not started until Start or Run is called.
func New(name string, router Router, sb sandbox.Sandbox, opts ...Option) *Box {
	b := &Box{
		name:           name,
		router:         router,
		sb:             sb,
		deliverTimeout: defaultDeliverTimeout,
		eventHandlers:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns this box's registry name.
func (b *Box) Name() string { return b.name }

// Running reports whether the guest process is currently believed to be
// up: started via Run and not yet observed to exit or be stopped. Used
// by boxlitectl's list command to render a box's RUNNING/STOPPED status.
func (b *Box) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Task registers the name of a task function (from pkg/inject) to run
// once in the guest before it enters its event loop. Returns b for
// fluent chaining.
func (b *Box) Task(name string) *Box {
	b.mu.Lock()
	b.taskName = name
	b.mu.Unlock()
	return b
}

// OnMessage registers the name of a message handler (from pkg/inject) to
// wire into the guest. Handlers run in registration order.
func (b *Box) OnMessage(name string) *Box {
	b.mu.Lock()
	b.msgHandlers = append(b.msgHandlers, name)
	b.mu.Unlock()
	return b
}

// OnEvent registers the name of an event handler (from pkg/inject) for
// one event, in registration order.
func (b *Box) OnEvent(event, name string) *Box {
	b.mu.Lock()
	b.eventHandlers[event] = append(b.eventHandlers[event], name)
	b.mu.Unlock()
	return b
}

// Start creates and boots the underlying sandbox instance, but does not
// exec the guest program yet. It is idempotent.
func (b *Box) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	h, err := b.sb.Create(ctx, b.name, b.resources)
	if err != nil {
		return protocol.Wrap(protocol.KindSandboxError, b.name, err)
	}
	if err := b.sb.Start(ctx, h); err != nil {
		return protocol.Wrap(protocol.KindSandboxError, b.name, err)
	}
	b.handle = h
	b.started = true
	return nil
}

// Run execs the guest program (a re-invocation of this same binary in
// guest mode, per pkg/sandbox's default provider) with the registered
// task/handler names wired in via environment, and starts the stream
// pump that drains its stdout. It calls Start first if that has not
// already happened. Run fails with KindNothingRegistered if no task or
// handler has been registered, and with KindAlreadyRunning if the guest
// is already running.
func (b *Box) Run(ctx context.Context, extraEnv map[string]string) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return protocol.NewError(protocol.KindAlreadyRunning, b.name)
	}
	if b.taskName == "" && len(b.msgHandlers) == 0 && len(b.eventHandlers) == 0 {
		b.mu.Unlock()
		return protocol.NewError(protocol.KindNothingRegistered, b.name)
	}
	prog := inject.Program{
		Task:            b.taskName,
		MessageHandlers: append([]string(nil), b.msgHandlers...),
		EventHandlers:   cloneEventMap(b.eventHandlers),
	}
	b.mu.Unlock()

	if err := b.Start(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	handle := b.handle
	b.mu.Unlock()

	env := prog.Env(b.name, extraEnv)
	argv := []string{os.Args[0]}

	execn, err := b.sb.Exec(ctx, handle, argv, env)
	if err != nil {
		return protocol.Wrap(protocol.KindSandboxError, b.name, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.exec = execn
	b.enc = protocol.NewEncoder(execn.Stdin)
	b.pending = make(map[string]chan pendingResult)
	b.cancelPump = cancel
	b.pumpDone = make(chan struct{})
	b.running = true
	b.mu.Unlock()

	go b.runPump(pumpCtx, execn.Stdout)
	return nil
}

// Wait blocks until the guest process exits, returning its exit code.
func (b *Box) Wait() (int, error) {
	b.mu.Lock()
	execn := b.exec
	b.mu.Unlock()
	if execn == nil {
		return 0, protocol.NewError(protocol.KindNotRunning, b.name)
	}
	code, err := execn.Wait()

	b.mu.Lock()
	b.running = false
	cancel := b.cancelPump
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-b.pumpDoneChan()
	return code, err
}

func (b *Box) pumpDoneChan() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pumpDone == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return b.pumpDone
}

// Stop sends a best-effort shutdown frame (waiting at most one second, or
// until ctx is done, for the write to go through), then kills the guest
// process and tears down its sandbox instance. Stop is idempotent: calling it
// more than once, or on a box that was never started, is a no-op.
func (b *Box) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	running := b.running
	enc := b.enc
	cancel := b.cancelPump
	execn := b.exec
	handle := b.handle
	started := b.started
	b.mu.Unlock()

	if running && enc != nil {
		// The write runs in its own goroutine so a guest that is not
		// reading its stdin cannot keep Stop from killing it; Kill below
		// closes the stream, which releases a write still blocked.
		sent := make(chan struct{})
		go func() {
			_ = enc.Encode(protocol.Frame{Type: protocol.TypeShutdown})
			close(sent)
		}()
		select {
		case <-sent:
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
	if cancel != nil {
		cancel()
	}
	if execn != nil {
		_ = execn.Kill()
	}
	if started {
		_ = b.sb.Stop(ctx, handle)
	}

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	return nil
}

// Deliver sends a point-to-point message to this box's guest on behalf
// of sender, blocking until the guest replies or the deliver timeout
// elapses. It fails immediately with KindPeerDown if the guest is not
// currently running.
func (b *Box) Deliver(ctx context.Context, sender string, data json.RawMessage) (json.RawMessage, error) {
	b.mu.Lock()
	if !b.running || b.enc == nil {
		b.mu.Unlock()
		return nil, protocol.NewError(protocol.KindPeerDown, b.name)
	}
	enc := b.enc
	reqID := uuid.NewString()
	ch := make(chan pendingResult, 1)
	b.pending[reqID] = ch
	timeout := b.deliverTimeout
	b.mu.Unlock()

	if err := enc.Encode(protocol.Frame{
		Type:      protocol.TypeMessage,
		Sender:    sender,
		Data:      data,
		RequestID: reqID,
	}); err != nil {
		b.mu.Lock()
		delete(b.pending, reqID)
		b.mu.Unlock()
		return nil, protocol.Wrap(protocol.KindPeerDown, b.name, err)
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-time.After(timeout):
		b.mu.Lock()
		delete(b.pending, reqID)
		b.mu.Unlock()
		return nil, protocol.NewError(protocol.KindTimeout, fmt.Sprintf("%s: request %s", b.name, reqID))
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, reqID)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SendEvent writes a fan-out event frame to this box's guest. It is a
// no-op error (KindPeerDown) if the guest is not running; callers
// broadcasting to many boxes are expected to swallow this.
func (b *Box) SendEvent(event string, data json.RawMessage) error {
	b.mu.Lock()
	running := b.running
	enc := b.enc
	b.mu.Unlock()
	if !running || enc == nil {
		return protocol.NewError(protocol.KindPeerDown, b.name)
	}
	return enc.Encode(protocol.Frame{Type: protocol.TypeEvent, Event: event, Data: data})
}

func (b *Box) failAllPending(err error) {
	b.mu.Lock()
	pend := b.pending
	b.pending = make(map[string]chan pendingResult)
	b.mu.Unlock()
	for _, ch := range pend {
		select {
		case ch <- pendingResult{err: err}:
		default:
		}
	}
}

func cloneEventMap(m map[string][]string) map[string][]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}
