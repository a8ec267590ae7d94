// Package inject is BoxLite's answer to a problem a single Go process
// can't solve by serializing a closure across an exec boundary: handler
// injection by name instead of by value. A box is exec'd
// as a fresh re-invocation of the host binary, so a host-side
// task/handler can only cross into the guest by name, not by value.
//
// A program registers its task and handler functions once, at init time
// or in main, under a name of its choosing:
//
//	inject.RegisterMessageHandler("echo", func(sender string, data json.RawMessage) (any, error) {
//		return data, nil
//	})
//
// The same names are then passed to box.Box.Task/OnMessage/OnEvent on
// the host side. When the box execs, Program.Env renders those names
// into environment variables; in the guest process, Bootstrap reads them
// back, resolves them against this same registry (which the guest
// binary links in too, since it's the same executable), and wires them
// into a guestrt.Runtime before entering the event loop.
package inject

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/strand-protocol/boxlite/pkg/guestrt"
)

// Environment variable names the host sets on a guest process and the
// guest bootstrap reads back.
const (
	EnvGuestMode       = "BOXLITE_GUEST_MODE"
	EnvTask            = "BOXLITE_TASK"
	EnvMessageHandlers = "BOXLITE_MSG_HANDLERS"
	EnvEventHandlers   = "BOXLITE_EVENT_HANDLERS"
)

// TaskFunc is a one-shot function that runs once in a fresh guest before
// it enters its event loop — the "sender-style agent" shape, given the
// runtime so it can itself call SendMessage or PublishEvent.
type TaskFunc func(rt *guestrt.Runtime)

// Program is the set of names resolved into a box's guest process.
type Program struct {
	Task            string
	MessageHandlers []string
	EventHandlers   map[string][]string
}

// Env renders p, plus the guest's own box name and guest-mode marker,
// into the environment a box.Box passes to sandbox.Sandbox.Exec. extra
// entries are merged in first so BOXLITE_* control variables always take
// precedence over caller-supplied entries of the same name. The guest's
// environment is built from scratch rather than inherited from the host
// process, so a box never implicitly sees host secrets it wasn't
// explicitly given.
func (p Program) Env(boxName string, extra map[string]string) []string {
	merged := make(map[string]string, len(extra)+4)
	for k, v := range extra {
		merged[k] = v
	}

	merged[EnvGuestMode] = "1"
	merged[guestrt.BoxNameEnv] = boxName
	if p.Task != "" {
		merged[EnvTask] = p.Task
	}
	if len(p.MessageHandlers) > 0 {
		merged[EnvMessageHandlers] = strings.Join(p.MessageHandlers, ",")
	}
	if len(p.EventHandlers) > 0 {
		if raw, err := json.Marshal(p.EventHandlers); err == nil {
			merged[EnvEventHandlers] = string(raw)
		}
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

var (
	mu            sync.RWMutex
	tasks         = map[string]TaskFunc{}
	msgHandlers   = map[string]guestrt.MessageHandler{}
	eventHandlers = map[string]guestrt.EventHandler{}
)

// RegisterTask makes fn resolvable by name as a box's task.
func RegisterTask(name string, fn TaskFunc) {
	mu.Lock()
	defer mu.Unlock()
	tasks[name] = fn
}

// RegisterMessageHandler makes fn resolvable by name as a message handler.
func RegisterMessageHandler(name string, fn guestrt.MessageHandler) {
	mu.Lock()
	defer mu.Unlock()
	msgHandlers[name] = fn
}

// RegisterEventHandler makes fn resolvable by name as an event handler.
func RegisterEventHandler(name string, fn guestrt.EventHandler) {
	mu.Lock()
	defer mu.Unlock()
	eventHandlers[name] = fn
}

// IsGuest reports whether this process was exec'd as a BoxLite guest.
func IsGuest() bool { return os.Getenv(EnvGuestMode) == "1" }

// Bootstrap is the guest entrypoint. Call it first in any main() that
// also registers tasks/handlers via this package: if the process was not
// launched in guest mode it returns immediately, so the same binary runs
// ordinary host/broker logic. If it was, Bootstrap resolves this
// process's task and handlers from its environment, runs the task (if
// any), enters the guest event loop for as long as any handler is
// registered, and then calls os.Exit — a guest process has no further
// purpose once its loop returns.
func Bootstrap() {
	if !IsGuest() {
		return
	}
	os.Exit(runGuest())
}

func runGuest() int {
	rt := guestrt.NewStdio()

	msgNames := splitCSV(os.Getenv(EnvMessageHandlers))
	var eventNames map[string][]string
	if raw := os.Getenv(EnvEventHandlers); raw != "" {
		if err := json.Unmarshal([]byte(raw), &eventNames); err != nil {
			log.Printf("boxlite: guest %s: decode event handler names: %v", rt.Name(), err)
		}
	}
	taskName := os.Getenv(EnvTask)

	mu.RLock()
	for _, n := range msgNames {
		if h, ok := msgHandlers[n]; ok {
			rt.OnMessage(h)
		} else {
			log.Printf("boxlite: guest %s: unregistered message handler %q", rt.Name(), n)
		}
	}
	for event, names := range eventNames {
		for _, n := range names {
			if h, ok := eventHandlers[n]; ok {
				rt.OnEvent(event, h)
			} else {
				log.Printf("boxlite: guest %s: unregistered event handler %q for event %q", rt.Name(), n, event)
			}
		}
	}
	var task TaskFunc
	if taskName != "" {
		var ok bool
		task, ok = tasks[taskName]
		if !ok {
			log.Printf("boxlite: guest %s: unregistered task %q", rt.Name(), taskName)
		}
	}
	mu.RUnlock()

	if task != nil {
		task(rt)
	}

	if len(msgNames) == 0 && len(eventNames) == 0 {
		return 0 // task-only box: nothing left to wait on
	}
	if err := rt.RunForever(); err != nil {
		log.Printf("boxlite: guest %s: run loop: %v", rt.Name(), err)
		return 1
	}
	return 0
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
