package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/kballard/go-shellquote"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type localCommandRunner struct {
	store              cas.Store
	digestFunction     digest.Function
	buildDirectoryPath string
	platform           Platform
	clock              clock.Clock
}

// NewLocalCommandRunner returns a CommandRunner capable of running
// processes on the local system directly. Every process is run inside
// a fresh directory below the build directory, into which the input
// root is materialized from the Store. Upon completion, the process'
// stdout, stderr and declared outputs are recorded in the Store.
func NewLocalCommandRunner(store cas.Store, digestFunction digest.Function, buildDirectoryPath string, clock clock.Clock) CommandRunner {
	return &localCommandRunner{
		store:              store,
		digestFunction:     digestFunction,
		buildDirectoryPath: buildDirectoryPath,
		platform:           CurrentPlatform(),
		clock:              clock,
	}
}

func (r *localCommandRunner) ExtractCompatibleRequest(request MultiPlatformProcess) (*Process, bool) {
	return request.Select(r.platform)
}

func (r *localCommandRunner) Run(ctx context.Context, request MultiPlatformProcess) (*Result, error) {
	process, ok := r.ExtractCompatibleRequest(request)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "No variant of the process is compatible with platform %#v", string(r.platform))
	}
	if len(process.Arguments) < 1 {
		return nil, status.Error(codes.InvalidArgument, "Insufficient number of command arguments")
	}
	if _, err := cas.ParseRelativePath(process.WorkingDirectory); err != nil {
		return nil, util.StatusWrap(err, "Invalid working directory")
	}

	// Construct the input root.
	inputRootPath, err := os.MkdirTemp(r.buildDirectoryPath, "process-")
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to create input root directory")
	}
	defer os.RemoveAll(inputRootPath)
	if err := cas.MaterializeDirectory(ctx, r.store, process.InputRootDigest, inputRootPath); err != nil {
		return nil, util.StatusWrap(err, "Failed to materialize input root")
	}
	workingDirectoryPath := filepath.Join(inputRootPath, filepath.FromSlash(process.WorkingDirectory))
	if err := os.MkdirAll(workingDirectoryPath, 0o777); err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to create working directory")
	}

	// Create parent directories of outputs, as processes generally
	// expect these to exist.
	outputPaths := append(append([]string(nil), process.OutputFiles...), process.OutputDirectories...)
	for _, outputPath := range outputPaths {
		components, err := cas.ParseRelativePath(outputPath)
		if err != nil {
			return nil, util.StatusWrapf(err, "Invalid output path %#v", outputPath)
		}
		if len(components) > 1 {
			parentPath := filepath.Join(append([]string{workingDirectoryPath}, components[:len(components)-1]...)...)
			if err := os.MkdirAll(parentPath, 0o777); err != nil {
				return nil, util.StatusWrapfWithCode(err, codes.Internal, "Failed to create parent directory of output path %#v", outputPath)
			}
		}
	}

	runCtx := ctx
	if process.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = r.clock.NewContextWithTimeout(ctx, process.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, process.Arguments[0], process.Arguments[1:]...)
	cmd.Dir = workingDirectoryPath
	cmd.Env = make([]string, 0, len(process.EnvironmentVariables))
	for _, name := range sortedKeys(process.EnvironmentVariables) {
		cmd.Env = append(cmd.Env, name+"="+process.EnvironmentVariables[name])
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 10 * time.Second
	configureProcessTermination(cmd)

	executionStartTimestamp := r.clock.Now()
	if err := cmd.Start(); err != nil {
		code := codes.Internal
		for _, invalidArgumentErr := range invalidArgumentErrs {
			if errors.Is(err, invalidArgumentErr) {
				code = codes.InvalidArgument
				break
			}
		}
		return nil, util.StatusWrapfWithCode(err, code, "Failed to start process %s", shellquote.Join(process.Arguments...))
	}

	// Wait for execution to complete. Permit non-zero exit codes.
	waitErr := cmd.Wait()
	executionCompletedTimestamp := r.clock.Now()
	if err := runCtx.Err(); err != nil {
		if ctx.Err() == nil {
			return nil, status.Errorf(codes.DeadlineExceeded, "Process exceeded its timeout of %s", process.Timeout)
		}
		return nil, util.StatusFromContext(ctx)
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); !ok {
			return nil, util.StatusWrapWithCode(waitErr, codes.Internal, "Failed to wait for process")
		}
	}

	// Record stdout, stderr and outputs in the Store.
	stdoutDigest, err := r.store.PutBlob(ctx, r.digestFunction, stdout.Bytes())
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to store stdout")
	}
	stderrDigest, err := r.store.PutBlob(ctx, r.digestFunction, stderr.Bytes())
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to store stderr")
	}
	outputDirectoryBuilder := cas.NewDirectoryBuilder(r.store, r.digestFunction)
	for _, outputPath := range outputPaths {
		if err := outputDirectoryBuilder.AddLocalPath(ctx, outputPath, filepath.Join(workingDirectoryPath, filepath.FromSlash(outputPath))); err != nil {
			return nil, util.StatusWrapf(err, "Failed to capture output path %#v", outputPath)
		}
	}
	outputDirectoryDigest, err := outputDirectoryBuilder.Build(ctx)
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to store output directory")
	}

	return &Result{
		ExitCode:              int32(cmd.ProcessState.ExitCode()),
		StdoutDigest:          stdoutDigest,
		StderrDigest:          stderrDigest,
		OutputDirectoryDigest: outputDirectoryDigest,
		Platform:              r.platform,
		Metadata: ResultMetadata{
			Source:                      ResultSourceRanLocally,
			ExecutionStartTimestamp:     executionStartTimestamp,
			ExecutionCompletedTimestamp: executionCompletedTimestamp,
		},
	}, nil
}
