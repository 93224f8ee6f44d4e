package remotecache_test

import (
	"context"
	"testing"
	"time"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	re_blobstore "github.com/buildbarn/bb-remote-cache/pkg/blobstore"
	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-remote-cache/pkg/process"
	"github.com/buildbarn/bb-remote-cache/pkg/remotecache"
	"github.com/buildbarn/bb-storage/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/protobuf/types/known/timestamppb"
)

var sha256DigestFunction = digest.MustNewFunction("example", remoteexecution.DigestFunction_SHA256)

func newStore(t *testing.T, remote blobstore.BlobAccess) cas.Store {
	local, err := re_blobstore.NewDiskBlobAccess(t.TempDir(), 1<<20)
	require.NoError(t, err)
	return cas.NewTieredStore(local, remote, 1<<20, 1<<20, 100, 4)
}

func computeMessageDigest(t *testing.T, m *remoteexecution.Tree) digest.Digest {
	data, err := cas.MarshalMessage(m)
	require.NoError(t, err)
	d, err := cas.ComputeDigest(sha256DigestFunction, data)
	require.NoError(t, err)
	return d
}

func TestNewActionResult(t *testing.T) {
	ctx := context.Background()

	store := newStore(t, nil)
	rolandDigest, err := store.PutBlob(ctx, sha256DigestFunction, []byte("European Burmese"))
	require.NoError(t, err)
	robinDigest, err := store.PutBlob(ctx, sha256DigestFunction, []byte("Pug"))
	require.NoError(t, err)

	b := cas.NewDirectoryBuilder(store, sha256DigestFunction)
	require.NoError(t, b.AddFile(ctx, "pets/cats/roland.ext", rolandDigest, false))
	require.NoError(t, b.AddFile(ctx, "pets/dogs/robin.ext", robinDigest, true))
	outputDirectoryDigest, err := b.Build(ctx)
	require.NoError(t, err)

	t.Run("ExitCode102", func(t *testing.T) {
		// Standard output and the output file have the same
		// contents, meaning they share a digest.
		actionResult, digests, err := remotecache.NewActionResult(ctx, store, &remoteexecution.Command{
			Arguments:         []string{"/bin/false"},
			OutputFiles:       []string{"pets/cats/roland.ext"},
			OutputDirectories: []string{"pets/cats"},
		}, &process.Result{
			ExitCode:              102,
			StdoutDigest:          rolandDigest,
			StderrDigest:          robinDigest,
			OutputDirectoryDigest: outputDirectoryDigest,
		})
		require.NoError(t, err)

		tree := &remoteexecution.Tree{
			Root: &remoteexecution.Directory{
				Files: []*remoteexecution.FileNode{
					{Name: "roland.ext", Digest: rolandDigest.GetProto()},
				},
			},
		}
		treeDigest := computeMessageDigest(t, tree)
		testutil.RequireEqualProto(t, &remoteexecution.ActionResult{
			ExitCode:     102,
			StdoutDigest: rolandDigest.GetProto(),
			StderrDigest: robinDigest.GetProto(),
			OutputFiles: []*remoteexecution.OutputFile{
				{Path: "pets/cats/roland.ext", Digest: rolandDigest.GetProto()},
			},
			OutputDirectories: []*remoteexecution.OutputDirectory{
				{Path: "pets/cats", TreeDigest: treeDigest.GetProto()},
			},
		}, actionResult)
		require.Equal(t, digest.NewSetBuilder().Add(rolandDigest).Add(robinDigest).Add(treeDigest).Build(), digests)

		// The Tree should have been stored, so that it can be
		// uploaded.
		storedTree, err := store.GetTree(ctx, treeDigest)
		require.NoError(t, err)
		testutil.RequireEqualProto(t, tree, storedTree)
	})

	t.Run("NestedDirectories", func(t *testing.T) {
		actionResult, digests, err := remotecache.NewActionResult(ctx, store, &remoteexecution.Command{
			Arguments:         []string{"/bin/true"},
			OutputDirectories: []string{"pets"},
		}, &process.Result{
			StdoutDigest:          robinDigest,
			StderrDigest:          robinDigest,
			OutputDirectoryDigest: outputDirectoryDigest,
		})
		require.NoError(t, err)
		require.Len(t, actionResult.OutputDirectories, 1)

		// The digest set should contain all directories and
		// files below the output directory.
		tree, err := store.GetTree(ctx, digest.MustNewDigest(
			"example",
			remoteexecution.DigestFunction_SHA256,
			actionResult.OutputDirectories[0].TreeDigest.Hash,
			actionResult.OutputDirectories[0].TreeDigest.SizeBytes))
		require.NoError(t, err)
		require.Len(t, tree.Children, 2)
		catsDigest, err := sha256DigestFunction.NewDigestFromProto(tree.Root.Directories[0].Digest)
		require.NoError(t, err)
		dogsDigest, err := sha256DigestFunction.NewDigestFromProto(tree.Root.Directories[1].Digest)
		require.NoError(t, err)
		require.Equal(t, digest.NewSetBuilder().
			Add(robinDigest).
			Add(rolandDigest).
			Add(computeMessageDigest(t, tree)).
			Add(catsDigest).
			Add(dogsDigest).
			Build(), digests)
	})

	t.Run("AbsentOutputs", func(t *testing.T) {
		// Outputs that were not created should be omitted
		// silently.
		executionStartTimestamp := time.Unix(1000, 0)
		executionCompletedTimestamp := time.Unix(1005, 0)
		actionResult, digests, err := remotecache.NewActionResult(ctx, store, &remoteexecution.Command{
			Arguments:         []string{"/bin/true"},
			OutputFiles:       []string{"pets/cats", "pets/fish.ext", "birds/eagle.ext"},
			OutputDirectories: []string{"pets/cats/roland.ext", "birds"},
		}, &process.Result{
			StdoutDigest:          robinDigest,
			StderrDigest:          rolandDigest,
			OutputDirectoryDigest: outputDirectoryDigest,
			Metadata: process.ResultMetadata{
				ExecutionStartTimestamp:     executionStartTimestamp,
				ExecutionCompletedTimestamp: executionCompletedTimestamp,
			},
		})
		require.NoError(t, err)
		testutil.RequireEqualProto(t, &remoteexecution.ActionResult{
			StdoutDigest: robinDigest.GetProto(),
			StderrDigest: rolandDigest.GetProto(),
			ExecutionMetadata: &remoteexecution.ExecutedActionMetadata{
				ExecutionStartTimestamp:     timestamppb.New(executionStartTimestamp),
				ExecutionCompletedTimestamp: timestamppb.New(executionCompletedTimestamp),
			},
		}, actionResult)
		require.Equal(t, digest.NewSetBuilder().Add(robinDigest).Add(rolandDigest).Build(), digests)
	})
}
