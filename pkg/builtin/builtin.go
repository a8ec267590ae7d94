// Package builtin registers a small set of demo task/handler names so
// boxlitectl's "run" subcommand has something to execute against a
// box-graph YAML file without the caller writing any Go code. A real
// deployment links its own handlers via pkg/inject and builds its own
// main instead of depending on this package.
package builtin

import (
	"encoding/json"
	"log"

	"github.com/strand-protocol/boxlite/pkg/guestrt"
	"github.com/strand-protocol/boxlite/pkg/inject"
)

// RegisterAll wires every builtin name into pkg/inject's registry. Call
// it once, before inject.Bootstrap, from any main that wants these names
// available to a box-graph config.
func RegisterAll() {
	inject.RegisterMessageHandler("builtin.echo", echo)
	inject.RegisterEventHandler("builtin.logger", logger)
	inject.RegisterTask("builtin.heartbeat", heartbeat)
}

// echo replies with exactly the data it was sent.
func echo(sender string, data json.RawMessage) (any, error) {
	return data, nil
}

// logger prints every event it receives to the guest's stderr (stdout
// is reserved for the wire protocol).
func logger(data json.RawMessage) {
	log.Printf("boxlite: builtin.logger: %s", string(data))
}

// heartbeat publishes a single "boxlite.heartbeat" event on startup, for
// exercising fan-out in a graph with no custom code.
func heartbeat(rt *guestrt.Runtime) {
	if err := rt.PublishEvent("boxlite.heartbeat", map[string]string{"from": rt.Name()}); err != nil {
		log.Printf("boxlite: builtin.heartbeat: %v", err)
	}
}
