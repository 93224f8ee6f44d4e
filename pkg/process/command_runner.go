package process

import (
	"context"
)

// CommandRunner is capable of running processes. Implementations may
// run processes locally, or obtain results in other ways, such as by
// consulting a cache.
type CommandRunner interface {
	// Run the variant of a process that is compatible with the
	// platform of this runner. A process terminating with a non-zero
	// exit code is not an error; the exit code is part of the
	// Result.
	Run(ctx context.Context, request MultiPlatformProcess) (*Result, error)
	// ExtractCompatibleRequest returns the variant of a process
	// that Run() would execute.
	ExtractCompatibleRequest(request MultiPlatformProcess) (*Process, bool)
}
