// Package guestrt is the in-guest BoxLite runtime: the library user code
// running inside a box links against to send point-to-point messages,
// publish fan-out events, register handlers, and drive the event loop.
//
// A guest is a single-threaded, cooperative program: handlers run
// synchronously from RunForever (or from a nested SendMessage call), and
// only one frame is ever dispatched at a time. The frame reader is
// nesting-tolerant: a handler may itself call SendMessage, which
// re-enters the same frame reader and keeps dispatching any message/event
// frames that arrive before its own reply does.
package guestrt

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/strand-protocol/boxlite/pkg/protocol"
)

// BoxNameEnv is the environment variable the host sets on every guest
// process so it can report its own identity.
const BoxNameEnv = "BOXLITE_BOX_NAME"

// MessageHandler handles an inbound point-to-point message. The first
// handler registered that returns without error decides the response.
type MessageHandler func(sender string, data json.RawMessage) (any, error)

// EventHandler handles one inbound fan-out event. Handler errors are
// swallowed — events are fire-and-forget.
type EventHandler func(data json.RawMessage)

// Runtime is the guest-side protocol endpoint. Its handler registries are
// process-wide for the lifetime of the guest process; this is acceptable
// because each guest is a single-tenant, fresh process.
type Runtime struct {
	name string
	dec  *protocol.Decoder
	enc  *protocol.Encoder

	mu              sync.Mutex
	messageHandlers []MessageHandler
	eventHandlers   map[string][]EventHandler
	stopped         bool
}

// New builds a Runtime that reads frames from r and writes frames to w,
// reporting itself as name.
func New(r io.Reader, w io.Writer, name string) *Runtime {
	return &Runtime{
		name:          name,
		dec:           protocol.NewDecoder(r),
		enc:           protocol.NewEncoder(w),
		eventHandlers: make(map[string][]EventHandler),
	}
}

// NewStdio builds a Runtime wired to the process's stdin/stdout, with the
// box name taken from BOXLITE_BOX_NAME.
func NewStdio() *Runtime {
	return New(os.Stdin, os.Stdout, os.Getenv(BoxNameEnv))
}

// Name returns this guest's own box name.
func (rt *Runtime) Name() string { return rt.name }

// OnMessage registers a message handler. Handlers are tried in
// registration order by the dispatch loop.
func (rt *Runtime) OnMessage(h MessageHandler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.messageHandlers = append(rt.messageHandlers, h)
}

// OnEvent registers a handler for one named event. Multiple handlers per
// event are permitted and invoked in registration order.
func (rt *Runtime) OnEvent(event string, h EventHandler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.eventHandlers[event] = append(rt.eventHandlers[event], h)
}

// SendMessage blocks until it receives a response frame matching the
// request it emits, returning the response's result payload, or fails
// with a *protocol.Error of Kind KindConnectionClosed if stdin reaches
// EOF first.
func (rt *Runtime) SendMessage(target string, data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("boxlite: marshal send payload: %w", err)
	}
	reqID := uuid.NewString()
	if err := rt.enc.Encode(protocol.Frame{
		Type:      protocol.TypeSend,
		Target:    target,
		Data:      raw,
		RequestID: reqID,
	}); err != nil {
		return nil, fmt.Errorf("boxlite: write send frame: %w", err)
	}

	reply, ok := rt.readUntilReply(reqID)
	if !ok {
		return nil, protocol.NewError(protocol.KindConnectionClosed, "stdin closed while awaiting response to "+reqID)
	}
	if reply.Error != "" {
		return nil, protocol.NewError(protocol.KindHandlerFailed, reply.Error)
	}
	return reply.Result, nil
}

// PublishEvent emits a fire-and-forget publish frame. There is no
// acknowledgement and no error is returned for delivery failures on the
// host's side — publish is always best-effort.
func (rt *Runtime) PublishEvent(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("boxlite: marshal publish payload: %w", err)
	}
	return rt.enc.Encode(protocol.Frame{Type: protocol.TypePublish, Event: event, Data: raw})
}

// Stop causes a subsequent RunForever call to return. A RunForever call
// already blocked reading a frame returns only after that next frame has
// been read and dispatched. Stop does not itself close the underlying
// stream.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	rt.stopped = true
	rt.mu.Unlock()
}

// RunForever enters the guest event loop, dispatching inbound frames
// until stdin EOFs, a shutdown frame arrives, or Stop is called. It
// returns nil on any of those three clean-exit conditions.
func (rt *Runtime) RunForever() error {
	for {
		rt.mu.Lock()
		stopped := rt.stopped
		rt.mu.Unlock()
		if stopped {
			return nil
		}

		f, ok, err := rt.dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !ok {
			continue // empty or malformed line: ignore, keep looping
		}
		if rt.dispatchTopLevel(f) {
			return nil
		}
	}
}

// readUntilReply drives the same frame reader used by RunForever, but
// stops as soon as it sees the bare reply frame for wantID. Any message
// or event frame encountered along the way is dispatched immediately
// through the normal dispatch table, so a guest blocked here still
// answers messages aimed at it.
func (rt *Runtime) readUntilReply(wantID string) (protocol.Frame, bool) {
	for {
		f, ok, err := rt.dec.Next()
		if err != nil {
			return protocol.Frame{}, false // EOF or fatal read error
		}
		if !ok {
			continue
		}
		if f.IsReply() && f.RequestID == wantID {
			return f, true
		}
		if rt.dispatchTopLevel(f) {
			return protocol.Frame{}, false // shutdown observed while nested
		}
	}
}

// dispatchTopLevel dispatches one frame by type and reports whether the
// caller should stop (shutdown requested).
func (rt *Runtime) dispatchTopLevel(f protocol.Frame) (shouldStop bool) {
	switch f.Type {
	case protocol.TypeMessage:
		rt.dispatchMessage(f)
	case protocol.TypeEvent:
		rt.dispatchEvent(f)
	case protocol.TypeShutdown:
		return true
	default:
		// Unrecognized type (including stray/late reply frames with a
		// request_id we're no longer waiting for): ignore silently.
	}
	return false
}

// dispatchMessage invokes message handlers in registration order. The
// first handler that returns without error decides the response; if all
// handlers error, the last error becomes the response's error string. A
// response frame is always emitted.
func (rt *Runtime) dispatchMessage(f protocol.Frame) {
	rt.mu.Lock()
	handlers := append([]MessageHandler(nil), rt.messageHandlers...)
	rt.mu.Unlock()

	var (
		result  any
		lastErr error
		handled bool
	)
	for _, h := range handlers {
		result, lastErr = h(f.Sender, f.Data)
		if lastErr == nil {
			handled = true
			break
		}
	}

	resp := protocol.Frame{Type: protocol.TypeResponse, RequestID: f.RequestID}
	if handled {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = fmt.Sprintf("marshal handler result: %v", err)
		} else {
			resp.Result = raw
		}
	} else if lastErr != nil {
		resp.Error = lastErr.Error()
	} else {
		// No handler claimed this message: reply with an error rather than
		// a null result, so a caller's SendMessage can distinguish "no one
		// was listening" from "the handler returned nothing".
		resp.Error = "no message handler registered"
	}
	_ = rt.enc.Encode(resp) // best-effort; a write failure here cannot be reported further
}

// dispatchEvent invokes every handler registered for f.Event in
// registration order, swallowing handler panics-as-errors since events
// are fire-and-forget. Events with no registered handlers are ignored.
func (rt *Runtime) dispatchEvent(f protocol.Frame) {
	rt.mu.Lock()
	handlers := append([]EventHandler(nil), rt.eventHandlers[f.Event]...)
	rt.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() { recover() }() // a panicking handler must not kill the loop
			h(f.Data)
		}()
	}
}
