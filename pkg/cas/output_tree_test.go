package cas_test

import (
	"context"
	"testing"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-remote-cache/internal/mock"
	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	rootDirectoryDigest = digest.MustNewDigest("example", remoteexecution.DigestFunction_MD5, "17cf2c6bc2d91e25e7bb3bc0fb2d95ea", 80)
	petsDirectoryDigest = digest.MustNewDigest("example", remoteexecution.DigestFunction_MD5, "2aafa5b2d44e9e44a8c4d5da1ae9e5e0", 120)
	catsDirectoryDigest = digest.MustNewDigest("example", remoteexecution.DigestFunction_MD5, "8b4df3c1d4bc4e53e8a69e4b1a25b2ec", 90)
	rolandFileDigest    = digest.MustNewDigest("example", remoteexecution.DigestFunction_MD5, "0c9fc59ab1b4e0d0fd6f4c1a0e8da2cc", 16)
	xyzzyFileDigest     = digest.MustNewDigest("example", remoteexecution.DigestFunction_MD5, "1271ed5ef305aadabc605b1609e24c52", 5)

	rootDirectory = &remoteexecution.Directory{
		Directories: []*remoteexecution.DirectoryNode{
			{Name: "pets", Digest: petsDirectoryDigest.GetProto()},
		},
	}
	petsDirectory = &remoteexecution.Directory{
		Directories: []*remoteexecution.DirectoryNode{
			{Name: "cats", Digest: catsDirectoryDigest.GetProto()},
		},
		Files: []*remoteexecution.FileNode{
			{Name: "xyzzy", Digest: xyzzyFileDigest.GetProto()},
		},
	}
	catsDirectory = &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{
			{Name: "roland.ext", Digest: rolandFileDigest.GetProto(), IsExecutable: true},
		},
	}
)

func TestNewTreeForOutputDirectory(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	directoryFetcher := mock.NewMockDirectoryFetcher(ctrl)

	t.Run("InvalidPath", func(t *testing.T) {
		_, err := cas.NewTreeForOutputDirectory(ctx, directoryFetcher, rootDirectoryDigest, "/pets")
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Path \"/pets\" is absolute, while a relative path was expected"), err)

		_, err = cas.NewTreeForOutputDirectory(ctx, directoryFetcher, rootDirectoryDigest, "pets/../cats")
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Path \"pets/../cats\" contains invalid component \"..\""), err)
	})

	t.Run("FetchFailure", func(t *testing.T) {
		directoryFetcher.EXPECT().GetDirectory(ctx, rootDirectoryDigest).Return(nil, status.Error(codes.Unavailable, "Server offline"))

		_, err := cas.NewTreeForOutputDirectory(ctx, directoryFetcher, rootDirectoryDigest, "pets")
		testutil.RequireEqualStatus(t, status.Error(codes.Unavailable, "Server offline"), err)
	})

	t.Run("Nonexistent", func(t *testing.T) {
		// Paths that don't exist should not yield a Tree, but
		// also not an error.
		directoryFetcher.EXPECT().GetDirectory(ctx, rootDirectoryDigest).Return(rootDirectory, nil)

		tree, err := cas.NewTreeForOutputDirectory(ctx, directoryFetcher, rootDirectoryDigest, "animals")
		require.NoError(t, err)
		require.Nil(t, tree)
	})

	t.Run("RegularFile", func(t *testing.T) {
		directoryFetcher.EXPECT().GetDirectory(ctx, rootDirectoryDigest).Return(rootDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, petsDirectoryDigest).Return(petsDirectory, nil)

		tree, err := cas.NewTreeForOutputDirectory(ctx, directoryFetcher, rootDirectoryDigest, "pets/xyzzy")
		require.NoError(t, err)
		require.Nil(t, tree)
	})

	t.Run("Subdirectory", func(t *testing.T) {
		directoryFetcher.EXPECT().GetDirectory(ctx, rootDirectoryDigest).Return(rootDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, petsDirectoryDigest).Return(petsDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, catsDirectoryDigest).Return(catsDirectory, nil)

		tree, err := cas.NewTreeForOutputDirectory(ctx, directoryFetcher, rootDirectoryDigest, "pets")
		require.NoError(t, err)
		testutil.RequireEqualProto(t, &remoteexecution.Tree{
			Root:     petsDirectory,
			Children: []*remoteexecution.Directory{catsDirectory},
		}, tree)
	})

	t.Run("Root", func(t *testing.T) {
		directoryFetcher.EXPECT().GetDirectory(ctx, rootDirectoryDigest).Return(rootDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, petsDirectoryDigest).Return(petsDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, catsDirectoryDigest).Return(catsDirectory, nil)

		tree, err := cas.NewTreeForOutputDirectory(ctx, directoryFetcher, rootDirectoryDigest, "")
		require.NoError(t, err)
		testutil.RequireEqualProto(t, &remoteexecution.Tree{
			Root:     rootDirectory,
			Children: []*remoteexecution.Directory{petsDirectory, catsDirectory},
		}, tree)
	})

	t.Run("DuplicateChildren", func(t *testing.T) {
		// Identical directories should only be listed once.
		// Children are listed in depth-first order.
		duplicatesDirectoryDigest := digest.MustNewDigest("example", remoteexecution.DigestFunction_MD5, "5d1c33c3dd27a4b4e1a2a4c2ad4d4e4a", 200)
		duplicatesDirectory := &remoteexecution.Directory{
			Directories: []*remoteexecution.DirectoryNode{
				{Name: "a", Digest: catsDirectoryDigest.GetProto()},
				{Name: "b", Digest: petsDirectoryDigest.GetProto()},
				{Name: "c", Digest: catsDirectoryDigest.GetProto()},
			},
		}
		directoryFetcher.EXPECT().GetDirectory(ctx, duplicatesDirectoryDigest).Return(duplicatesDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, catsDirectoryDigest).Return(catsDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, petsDirectoryDigest).Return(petsDirectory, nil)

		tree, err := cas.NewTreeForOutputDirectory(ctx, directoryFetcher, duplicatesDirectoryDigest, "")
		require.NoError(t, err)
		testutil.RequireEqualProto(t, &remoteexecution.Tree{
			Root:     duplicatesDirectory,
			Children: []*remoteexecution.Directory{catsDirectory, petsDirectory},
		}, tree)
	})
}

func TestGetOutputFile(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	directoryFetcher := mock.NewMockDirectoryFetcher(ctrl)

	t.Run("RootDirectory", func(t *testing.T) {
		fileNode, err := cas.GetOutputFile(ctx, directoryFetcher, rootDirectoryDigest, "")
		require.NoError(t, err)
		require.Nil(t, fileNode)
	})

	t.Run("Directory", func(t *testing.T) {
		directoryFetcher.EXPECT().GetDirectory(ctx, rootDirectoryDigest).Return(rootDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, petsDirectoryDigest).Return(petsDirectory, nil)

		fileNode, err := cas.GetOutputFile(ctx, directoryFetcher, rootDirectoryDigest, "pets/cats")
		require.NoError(t, err)
		require.Nil(t, fileNode)
	})

	t.Run("BelowRegularFile", func(t *testing.T) {
		directoryFetcher.EXPECT().GetDirectory(ctx, rootDirectoryDigest).Return(rootDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, petsDirectoryDigest).Return(petsDirectory, nil)

		fileNode, err := cas.GetOutputFile(ctx, directoryFetcher, rootDirectoryDigest, "pets/xyzzy/foo")
		require.NoError(t, err)
		require.Nil(t, fileNode)
	})

	t.Run("Nonexistent", func(t *testing.T) {
		directoryFetcher.EXPECT().GetDirectory(ctx, rootDirectoryDigest).Return(rootDirectory, nil)

		fileNode, err := cas.GetOutputFile(ctx, directoryFetcher, rootDirectoryDigest, "animals/dog.ext")
		require.NoError(t, err)
		require.Nil(t, fileNode)
	})

	t.Run("Success", func(t *testing.T) {
		directoryFetcher.EXPECT().GetDirectory(ctx, rootDirectoryDigest).Return(rootDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, petsDirectoryDigest).Return(petsDirectory, nil)
		directoryFetcher.EXPECT().GetDirectory(ctx, catsDirectoryDigest).Return(catsDirectory, nil)

		fileNode, err := cas.GetOutputFile(ctx, directoryFetcher, rootDirectoryDigest, "pets/cats/roland.ext")
		require.NoError(t, err)
		testutil.RequireEqualProto(t, &remoteexecution.FileNode{
			Name:         "roland.ext",
			Digest:       rolandFileDigest.GetProto(),
			IsExecutable: true,
		}, fileNode)
	})
}

func TestGetTreeDigests(t *testing.T) {
	digestFunction := rootDirectoryDigest.GetDigestFunction()

	t.Run("Success", func(t *testing.T) {
		digests, err := cas.GetTreeDigests(digestFunction, &remoteexecution.Tree{
			Root:     petsDirectory,
			Children: []*remoteexecution.Directory{catsDirectory},
		})
		require.NoError(t, err)
		require.Equal(t, digest.NewSetBuilder().
			Add(catsDirectoryDigest).
			Add(xyzzyFileDigest).
			Add(rolandFileDigest).
			Build(), digests)
	})

	t.Run("EmptyTree", func(t *testing.T) {
		digests, err := cas.GetTreeDigests(digestFunction, &remoteexecution.Tree{})
		require.NoError(t, err)
		require.Empty(t, digests.Items())
	})

	t.Run("InvalidDigest", func(t *testing.T) {
		_, err := cas.GetTreeDigests(digestFunction, &remoteexecution.Tree{
			Root: &remoteexecution.Directory{
				Files: []*remoteexecution.FileNode{
					{
						Name: "hello.txt",
						Digest: &remoteexecution.Digest{
							Hash:      "This is not a valid hash",
							SizeBytes: 12,
						},
					},
				},
			},
		})
		testutil.RequirePrefixedStatus(t, status.Error(codes.InvalidArgument, "Failed to obtain digest for file \"hello.txt\": "), err)
	})
}
