package cas

import (
	"context"
	"os"
	"path/filepath"

	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"
)

// MaterializeDirectory writes the contents of a directory that is
// present in the Store to a location on the local file system. The
// target directory is created if it does not exist yet. This is used
// to construct input roots of locally executed processes.
func MaterializeDirectory(ctx context.Context, store Store, directoryDigest digest.Digest, path string) error {
	if err := os.MkdirAll(path, 0o777); err != nil {
		return util.StatusWrapf(err, "Failed to create directory %#v", path)
	}
	directory, err := store.GetDirectory(ctx, directoryDigest)
	if err != nil {
		return err
	}

	digestFunction := directoryDigest.GetDigestFunction()
	for _, node := range directory.Files {
		if err := ValidateFilename(node.Name); err != nil {
			return err
		}
		fileDigest, err := digestFunction.NewDigestFromProto(node.Digest)
		if err != nil {
			return util.StatusWrapf(err, "Failed to obtain digest for file %#v", node.Name)
		}
		data, err := store.GetBlob(ctx, fileDigest)
		if err != nil {
			return err
		}
		var mode os.FileMode = 0o666
		if node.IsExecutable {
			mode = 0o777
		}
		filePath := filepath.Join(path, node.Name)
		if err := os.WriteFile(filePath, data, mode); err != nil {
			return util.StatusWrapf(err, "Failed to write file %#v", filePath)
		}
	}
	for _, node := range directory.Symlinks {
		if err := ValidateFilename(node.Name); err != nil {
			return err
		}
		symlinkPath := filepath.Join(path, node.Name)
		if err := os.Symlink(node.Target, symlinkPath); err != nil {
			return util.StatusWrapf(err, "Failed to create symbolic link %#v", symlinkPath)
		}
	}
	for _, node := range directory.Directories {
		if err := ValidateFilename(node.Name); err != nil {
			return err
		}
		childDigest, err := digestFunction.NewDigestFromProto(node.Digest)
		if err != nil {
			return util.StatusWrapf(err, "Failed to obtain digest for directory %#v", node.Name)
		}
		if err := MaterializeDirectory(ctx, store, childDigest, filepath.Join(path, node.Name)); err != nil {
			return err
		}
	}
	return nil
}
