package remotecache

import (
	"sync"

	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// WarningsBehavior controls how often errors that occur while
// accessing the remote cache are reported.
type WarningsBehavior int

const (
	// WarningsBehaviorIgnore causes errors never to be reported.
	WarningsBehaviorIgnore WarningsBehavior = iota
	// WarningsBehaviorFirstOnly causes only the first occurrence of
	// every distinct error condition to be reported.
	WarningsBehaviorFirstOnly
	// WarningsBehaviorBackoff causes occurrences of every distinct
	// error condition to be reported with exponentially decreasing
	// frequency. Occurrences 1, 2, 4, 8, ... are reported.
	WarningsBehaviorBackoff
	// WarningsBehaviorAlways causes all errors to be reported.
	WarningsBehaviorAlways
)

// NewWarningsBehaviorFromString converts the name of a warnings
// behavior, as used in configuration files, to its value.
func NewWarningsBehaviorFromString(name string) (WarningsBehavior, error) {
	switch name {
	case "ignore", "never":
		return WarningsBehaviorIgnore, nil
	case "first_only", "":
		return WarningsBehaviorFirstOnly, nil
	case "backoff":
		return WarningsBehaviorBackoff, nil
	case "always":
		return WarningsBehaviorAlways, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "Unknown warnings behavior %#v", name)
	}
}

type warningsErrorLogger struct {
	base     util.ErrorLogger
	behavior WarningsBehavior

	lock        sync.Mutex
	occurrences map[codes.Code]uint64
}

// NewWarningsErrorLogger creates a decorator for ErrorLogger that
// suppresses repeated reports of the same error condition, according
// to a WarningsBehavior. Error conditions are distinguished by their
// gRPC status code.
func NewWarningsErrorLogger(base util.ErrorLogger, behavior WarningsBehavior) util.ErrorLogger {
	return &warningsErrorLogger{
		base:        base,
		behavior:    behavior,
		occurrences: map[codes.Code]uint64{},
	}
}

func (el *warningsErrorLogger) Log(err error) {
	key := status.Code(err)

	el.lock.Lock()
	el.occurrences[key]++
	count := el.occurrences[key]
	el.lock.Unlock()

	var report bool
	switch el.behavior {
	case WarningsBehaviorFirstOnly:
		report = count == 1
	case WarningsBehaviorBackoff:
		report = count&(count-1) == 0
	case WarningsBehaviorAlways:
		report = true
	}
	if report {
		el.base.Log(err)
	}
}
