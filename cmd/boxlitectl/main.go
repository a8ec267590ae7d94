// Command boxlitectl is the operator-facing CLI for BoxLite. It also
// doubles as its own guest binary: when re-exec'd with
// BOXLITE_GUEST_MODE=1 (which the local process sandbox does for every
// box it starts), inject.Bootstrap takes over before the cobra command
// tree ever runs.
package main

import (
	"github.com/strand-protocol/boxlite/cmd/boxlitectl/cmd"
	"github.com/strand-protocol/boxlite/pkg/builtin"
	"github.com/strand-protocol/boxlite/pkg/inject"
)

func main() {
	builtin.RegisterAll()
	inject.Bootstrap()
	cmd.Execute()
}
