package process

import (
	"context"
	"log"

	"github.com/kballard/go-shellquote"
)

type loggingCommandRunner struct {
	CommandRunner
}

// NewLoggingCommandRunner wraps an existing CommandRunner, adding basic
// logging. The command line of a process is printed prior to running
// it, while its exit code and the source of its result are printed
// after completion.
func NewLoggingCommandRunner(base CommandRunner) CommandRunner {
	return &loggingCommandRunner{
		CommandRunner: base,
	}
}

func (r *loggingCommandRunner) Run(ctx context.Context, request MultiPlatformProcess) (*Result, error) {
	description := "<incompatible>"
	if process, ok := r.CommandRunner.ExtractCompatibleRequest(request); ok {
		description = process.Description
		log.Print("Process: ", shellquote.Join(process.Arguments...))
	}

	result, err := r.CommandRunner.Run(ctx, request)
	if err != nil {
		log.Printf("Process %#v failed: %s", description, err)
		return nil, err
	}
	if elapsed, ok := result.Metadata.TotalElapsed(); ok {
		log.Printf("Process %#v completed with exit code %d (source: %s, elapsed: %s)", description, result.ExitCode, result.Metadata.Source, elapsed)
	} else {
		log.Printf("Process %#v completed with exit code %d (source: %s)", description, result.ExitCode, result.Metadata.Source)
	}
	return result, nil
}
