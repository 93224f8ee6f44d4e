package remotecache

import (
	"time"

	"github.com/buildbarn/bb-remote-cache/pkg/process"
)

// Configuration of a caching command runner. The configuration is not
// modified after the runner is created.
type Configuration struct {
	// Whether the remote action cache is consulted before processes
	// are run locally.
	ReadEnabled bool
	// Whether the results of processes that ran locally and
	// succeeded are published to the remote action cache.
	WriteEnabled bool
	// Whether all outputs referenced by a cache hit need to be
	// copied into the local tier of the Store before the hit is
	// trusted. If disabled, outputs are only loaded when accessed.
	EagerFetch bool
	// Amount of time local execution is postponed after the remote
	// action cache lookup has started. If the lookup yields a hit
	// within this time, the process is not run locally at all. A
	// miss causes local execution to start immediately.
	SpeculationDelay time.Duration

	// Platform on which processes are run. Only the Process for
	// this platform is considered when computing cache keys.
	Platform process.Platform
	// Additional properties that are incorporated into cache keys.
	Metadata process.ProcessMetadata
	// Maximum size of ActionResult messages that are read from the
	// remote action cache.
	MaximumMessageSizeBytes int
}
