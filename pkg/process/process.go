package process

import (
	"time"

	"github.com/buildbarn/bb-storage/pkg/digest"
)

// Process describes a command that needs to be run, together with the
// inputs it consumes and the outputs it is expected to produce.
type Process struct {
	// Arguments of the command, including the name of the program
	// in the first position.
	Arguments            []string
	EnvironmentVariables map[string]string
	// Working directory of the command, relative to the input root.
	// All output paths are relative to the working directory.
	WorkingDirectory string
	// Digest of the Directory message describing the input root.
	InputRootDigest   digest.Digest
	OutputFiles       []string
	OutputDirectories []string
	// Maximum amount of time the command may run. Zero means no
	// limit.
	Timeout time.Duration
	// Human readable description, used for logging.
	Description string
	// If set, results of this process are never read from or
	// written to the remote cache.
	DoNotCache bool
}

// PlatformConstraint restricts the platforms on which a variant of a
// process may run.
type PlatformConstraint string

// PlatformConstraintNone indicates that a variant of a process may run
// on any platform.
const PlatformConstraintNone PlatformConstraint = ""

// MultiPlatformProcess contains variants of the same process, each of
// them suitable for running on a different platform.
type MultiPlatformProcess map[PlatformConstraint]*Process

// NewSinglePlatformProcess creates a MultiPlatformProcess that consists
// of a single process that may run on any platform.
func NewSinglePlatformProcess(process *Process) MultiPlatformProcess {
	return MultiPlatformProcess{PlatformConstraintNone: process}
}

// Select returns the variant of the process that is most specific for
// a given platform. Variants that are constrained to the platform are
// preferred over ones that are unconstrained.
func (m MultiPlatformProcess) Select(platform Platform) (*Process, bool) {
	if process, ok := m[PlatformConstraint(platform)]; ok {
		return process, true
	}
	process, ok := m[PlatformConstraintNone]
	return process, ok
}

// ProcessMetadata contains properties that are not part of a process,
// but do need to be incorporated into the key under which its results
// are cached.
type ProcessMetadata struct {
	// Changing this value causes all previously cached results to
	// be ignored.
	CacheKeyGenerationVersion string
	// Platform properties that are added to the Command message.
	PlatformProperties map[string]string
}
