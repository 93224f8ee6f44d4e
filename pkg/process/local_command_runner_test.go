//go:build unix

package process_test

import (
	"context"
	"testing"
	"time"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	re_blobstore "github.com/buildbarn/bb-remote-cache/pkg/blobstore"
	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-remote-cache/pkg/process"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newLocalStore(t *testing.T) cas.Store {
	local, err := re_blobstore.NewDiskBlobAccess(t.TempDir(), 1<<20)
	require.NoError(t, err)
	return cas.NewTieredStore(local, nil, 1<<20, 1<<20, 0, 4)
}

func TestLocalCommandRunner(t *testing.T) {
	ctx := context.Background()

	store := newLocalStore(t)
	runner := process.NewLocalCommandRunner(store, sha256DigestFunction, t.TempDir(), clock.SystemClock)

	inputDigest, err := store.PutBlob(ctx, sha256DigestFunction, []byte("European Burmese"))
	require.NoError(t, err)
	inputRootBuilder := cas.NewDirectoryBuilder(store, sha256DigestFunction)
	require.NoError(t, inputRootBuilder.AddFile(ctx, "src/pets/roland.ext", inputDigest, false))
	inputRootDigest, err := inputRootBuilder.Build(ctx)
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		result, err := runner.Run(ctx, process.NewSinglePlatformProcess(&process.Process{
			Arguments: []string{
				"/bin/sh", "-c",
				"cp pets/roland.ext out/cat.txt && mkdir -p dir/sub && echo whiskers > dir/sub/a && echo hello && echo world >&2",
			},
			EnvironmentVariables: map[string]string{"PATH": "/bin:/usr/bin"},
			WorkingDirectory:     "src",
			InputRootDigest:      inputRootDigest,
			OutputFiles:          []string{"out/cat.txt", "out/nonexistent"},
			OutputDirectories:    []string{"dir"},
		}))
		require.NoError(t, err)
		require.Equal(t, int32(0), result.ExitCode)
		require.Equal(t, process.ResultSourceRanLocally, result.Metadata.Source)
		require.Equal(t, process.CurrentPlatform(), result.Platform)
		_, ok := result.Metadata.TotalElapsed()
		require.True(t, ok)

		stdout, err := store.GetBlob(ctx, result.StdoutDigest)
		require.NoError(t, err)
		require.Equal(t, []byte("hello\n"), stdout)
		stderr, err := store.GetBlob(ctx, result.StderrDigest)
		require.NoError(t, err)
		require.Equal(t, []byte("world\n"), stderr)

		fileNode, err := cas.GetOutputFile(ctx, store, result.OutputDirectoryDigest, "out/cat.txt")
		require.NoError(t, err)
		testutil.RequireEqualProto(t, &remoteexecution.FileNode{
			Name:   "cat.txt",
			Digest: inputDigest.GetProto(),
		}, fileNode)

		fileNode, err = cas.GetOutputFile(ctx, store, result.OutputDirectoryDigest, "out/nonexistent")
		require.NoError(t, err)
		require.Nil(t, fileNode)

		tree, err := cas.NewTreeForOutputDirectory(ctx, store, result.OutputDirectoryDigest, "dir")
		require.NoError(t, err)
		require.NotNil(t, tree)
		require.Len(t, tree.Children, 1)
		require.Len(t, tree.Children[0].Files, 1)
		require.Equal(t, "a", tree.Children[0].Files[0].Name)
	})

	t.Run("NonZeroExitCode", func(t *testing.T) {
		// Non-zero exit codes should not be treated as errors.
		result, err := runner.Run(ctx, process.NewSinglePlatformProcess(&process.Process{
			Arguments:       []string{"/bin/sh", "-c", "exit 102"},
			InputRootDigest: inputRootDigest,
		}))
		require.NoError(t, err)
		require.Equal(t, int32(102), result.ExitCode)
	})

	t.Run("NonexistentProgram", func(t *testing.T) {
		_, err := runner.Run(ctx, process.NewSinglePlatformProcess(&process.Process{
			Arguments:       []string{"/nonexistent", "hello world"},
			InputRootDigest: inputRootDigest,
		}))
		testutil.RequirePrefixedStatus(t, status.Error(codes.InvalidArgument, "Failed to start process /nonexistent 'hello world': "), err)
	})

	t.Run("Timeout", func(t *testing.T) {
		_, err := runner.Run(ctx, process.NewSinglePlatformProcess(&process.Process{
			Arguments:       []string{"/bin/sh", "-c", "sleep 60"},
			InputRootDigest: inputRootDigest,
			Timeout:         100 * time.Millisecond,
		}))
		testutil.RequireEqualStatus(t, status.Error(codes.DeadlineExceeded, "Process exceeded its timeout of 100ms"), err)
	})

	t.Run("Cancellation", func(t *testing.T) {
		ctxCancelled, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()
		_, err := runner.Run(ctxCancelled, process.NewSinglePlatformProcess(&process.Process{
			Arguments:       []string{"/bin/sh", "-c", "sleep 60"},
			InputRootDigest: inputRootDigest,
		}))
		testutil.RequireEqualStatus(t, status.Error(codes.Canceled, "context canceled"), err)
	})

	t.Run("IncompatiblePlatform", func(t *testing.T) {
		_, err := runner.Run(ctx, process.MultiPlatformProcess{
			process.PlatformConstraint("plan9_mips"): {
				Arguments: []string{"/bin/true"},
			},
		})
		testutil.RequirePrefixedStatus(t, status.Error(codes.InvalidArgument, "No variant of the process is compatible with platform "), err)
	})
}
