//go:build unix

package cas_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"
)

func TestDirectoryBuilderAddLocalPath(t *testing.T) {
	ctx := context.Background()

	rolandDigest := digest.MustNewDigest("example", remoteexecution.DigestFunction_SHA256, "693d8db7b05e99c6b7a7c0616456039d89c555029026936248085193559a0b5d", 16)
	pugDigest := digest.MustNewDigest("example", remoteexecution.DigestFunction_SHA256, "da95ccd92a874d2169839cd90d9045be61d17df779fb28fe520a7465c6063723", 3)

	store := newLocalStore(t)
	localPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(localPath, "pets", "cats"), 0o777))
	require.NoError(t, os.WriteFile(filepath.Join(localPath, "pets", "cats", "roland.ext"), []byte("European Burmese"), 0o666))
	require.NoError(t, os.WriteFile(filepath.Join(localPath, "run.sh"), []byte("Pug"), 0o755))
	require.NoError(t, os.Symlink("pets/cats/roland.ext", filepath.Join(localPath, "favorite")))
	require.NoError(t, os.Mkdir(filepath.Join(localPath, "empty"), 0o777))

	t.Run("Root", func(t *testing.T) {
		b := cas.NewDirectoryBuilder(store, sha256DigestFunction)
		require.NoError(t, b.AddLocalPath(ctx, "", localPath))
		rootDigest, err := b.Build(ctx)
		require.NoError(t, err)

		rootDirectory, err := store.GetDirectory(ctx, rootDigest)
		require.NoError(t, err)
		require.Len(t, rootDirectory.Directories, 2)
		require.Equal(t, "empty", rootDirectory.Directories[0].Name)
		require.Equal(t, "pets", rootDirectory.Directories[1].Name)
		testutil.RequireEqualProto(t, &remoteexecution.FileNode{
			Name:         "run.sh",
			Digest:       pugDigest.GetProto(),
			IsExecutable: true,
		}, rootDirectory.Files[0])
		testutil.RequireEqualProto(t, &remoteexecution.SymlinkNode{
			Name:   "favorite",
			Target: "pets/cats/roland.ext",
		}, rootDirectory.Symlinks[0])

		fileNode, err := cas.GetOutputFile(ctx, store, rootDigest, "pets/cats/roland.ext")
		require.NoError(t, err)
		testutil.RequireEqualProto(t, &remoteexecution.FileNode{
			Name:   "roland.ext",
			Digest: rolandDigest.GetProto(),
		}, fileNode)
	})

	t.Run("Subdirectory", func(t *testing.T) {
		// Placing a local directory at a nested path should
		// create the intermediate directories.
		b := cas.NewDirectoryBuilder(store, sha256DigestFunction)
		require.NoError(t, b.AddLocalPath(ctx, "animals/pets", filepath.Join(localPath, "pets")))
		rootDigest, err := b.Build(ctx)
		require.NoError(t, err)

		fileNode, err := cas.GetOutputFile(ctx, store, rootDigest, "animals/pets/cats/roland.ext")
		require.NoError(t, err)
		require.NotNil(t, fileNode)
	})

	t.Run("Nonexistent", func(t *testing.T) {
		b := cas.NewDirectoryBuilder(store, sha256DigestFunction)
		require.NoError(t, b.AddLocalPath(ctx, "fish.ext", filepath.Join(localPath, "fish.ext")))
		rootDigest, err := b.Build(ctx)
		require.NoError(t, err)

		rootDirectory, err := store.GetDirectory(ctx, rootDigest)
		require.NoError(t, err)
		testutil.RequireEqualProto(t, &remoteexecution.Directory{}, rootDirectory)
	})
}
