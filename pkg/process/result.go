package process

import (
	"time"

	"github.com/buildbarn/bb-storage/pkg/digest"
)

// ResultSource indicates how a Result was obtained.
type ResultSource int

const (
	// ResultSourceRanLocally indicates that the process was
	// executed on the local system.
	ResultSourceRanLocally ResultSource = iota
	// ResultSourceHitRemotely indicates that the Result was served
	// from the remote action cache.
	ResultSourceHitRemotely
)

func (s ResultSource) String() string {
	switch s {
	case ResultSourceRanLocally:
		return "RanLocally"
	case ResultSourceHitRemotely:
		return "HitRemotely"
	default:
		return "Unknown"
	}
}

// ResultMetadata contains information on how a Result was obtained.
type ResultMetadata struct {
	Source ResultSource
	// Timestamps at which execution of the process started and
	// completed. These are zero if unknown.
	ExecutionStartTimestamp     time.Time
	ExecutionCompletedTimestamp time.Time
}

// TotalElapsed returns the amount of time it took to execute the
// process, if known.
func (m *ResultMetadata) TotalElapsed() (time.Duration, bool) {
	if m.ExecutionStartTimestamp.IsZero() || m.ExecutionCompletedTimestamp.IsZero() {
		return 0, false
	}
	return m.ExecutionCompletedTimestamp.Sub(m.ExecutionStartTimestamp), true
}

// Result of running a process.
type Result struct {
	ExitCode     int32
	StdoutDigest digest.Digest
	StderrDigest digest.Digest
	// Digest of a Directory message containing all outputs of the
	// process. Paths in this directory are relative to the working
	// directory of the process.
	OutputDirectoryDigest digest.Digest
	Platform              Platform
	Metadata              ResultMetadata
}
