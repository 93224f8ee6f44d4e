package cas

import (
	"context"
	"os"
	"path/filepath"

	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
)

// AddLocalPath records a file, symbolic link or directory hierarchy
// that is present on the local file system in the Store, and places
// it at a given path. Directories are traversed recursively. The empty
// path refers to the root directory, which requires localPath to be a
// directory.
//
// Nonexistent local paths are ignored, as processes are permitted to
// not create some of their declared outputs. Sockets, devices and FIFOs
// cannot be represented, and are skipped as well.
func (b *DirectoryBuilder) AddLocalPath(ctx context.Context, path, localPath string) error {
	fileInfo, err := os.Lstat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to obtain file status")
	}

	switch fileType := fileInfo.Mode().Type(); {
	case fileType == 0:
		data, err := os.ReadFile(localPath)
		if err != nil {
			return util.StatusWrapWithCode(err, codes.Internal, "Failed to read file")
		}
		fileDigest, err := b.store.PutBlob(ctx, b.digestFunction, data)
		if err != nil {
			return err
		}
		return b.AddFile(ctx, path, fileDigest, fileInfo.Mode()&0o111 != 0)
	case fileType&os.ModeSymlink != 0:
		target, err := os.Readlink(localPath)
		if err != nil {
			return util.StatusWrapWithCode(err, codes.Internal, "Failed to read symbolic link")
		}
		return b.AddSymlink(ctx, path, filepath.ToSlash(target))
	case fileType&os.ModeDir != 0:
		if err := b.AddEmptyDirectory(ctx, path); err != nil {
			return err
		}
		entries, err := os.ReadDir(localPath)
		if err != nil {
			return util.StatusWrapWithCode(err, codes.Internal, "Failed to read directory")
		}
		for _, entry := range entries {
			childPath := entry.Name()
			if path != "" {
				childPath = path + "/" + childPath
			}
			if err := b.AddLocalPath(ctx, childPath, filepath.Join(localPath, entry.Name())); err != nil {
				return util.StatusWrapf(err, "Failed to add %#v", childPath)
			}
		}
		return nil
	default:
		return nil
	}
}
