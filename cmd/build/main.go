// Command build is the dev-tooling entry point: `go run ./cmd/build test`
// runs the unit test suite, `go run ./cmd/build setup` installs the
// toolchain. Not part of the gc-viz binary.
package main

import (
	"github.com/outofforest/build"

	buildCommands "github.com/kenfox/gc-viz/build"
)

func main() {
	build.RegisterCommands(buildCommands.Commands)
	build.Main("gc-viz")
}
