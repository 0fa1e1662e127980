package build

import (
	"context"

	"github.com/outofforest/build"
	"github.com/outofforest/buildgo"
)

// setup installs the toolchain the other build commands in this package
// depend on: the pinned Go toolchain and golangci-lint.
func setup(ctx context.Context, deps build.DepsFunc) error {
	deps(buildgo.EnsureGo, buildgo.EnsureGolangCI)
	return nil
}
