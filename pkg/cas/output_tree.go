package cas

import (
	"context"
	"strings"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"
)

func getDirectoryNode(directory *remoteexecution.Directory, name string) *remoteexecution.DirectoryNode {
	for _, node := range directory.Directories {
		if node.Name == name {
			return node
		}
	}
	return nil
}

func getFileNode(directory *remoteexecution.Directory, name string) *remoteexecution.FileNode {
	for _, node := range directory.Files {
		if node.Name == name {
			return node
		}
	}
	return nil
}

// resolveDirectory walks a sequence of pathname components, starting at
// the directory with a given digest. It returns nil if one of the
// components does not refer to a directory.
func resolveDirectory(ctx context.Context, directoryFetcher DirectoryFetcher, rootDigest digest.Digest, components []string) (*remoteexecution.Directory, error) {
	digestFunction := rootDigest.GetDigestFunction()
	directory, err := directoryFetcher.GetDirectory(ctx, rootDigest)
	if err != nil {
		return nil, err
	}
	for i, component := range components {
		node := getDirectoryNode(directory, component)
		if node == nil {
			return nil, nil
		}
		childDigest, err := digestFunction.NewDigestFromProto(node.Digest)
		if err != nil {
			return nil, util.StatusWrapf(err, "Failed to obtain digest for directory %#v", strings.Join(components[:i+1], "/"))
		}
		if directory, err = directoryFetcher.GetDirectory(ctx, childDigest); err != nil {
			return nil, err
		}
	}
	return directory, nil
}

// NewTreeForOutputDirectory creates a Tree message for the directory
// that is stored at a given path below a root directory. This message
// can be stored in an ActionResult's OutputDirectory entry. The root
// of the Tree is the directory at the provided path, while its
// children are all directories that are transitively reachable from
// it, listed in depth-first order without duplicates.
//
// If the path does not exist, or does not refer to a directory, no
// Tree is returned.
func NewTreeForOutputDirectory(ctx context.Context, directoryFetcher DirectoryFetcher, rootDigest digest.Digest, path string) (*remoteexecution.Tree, error) {
	components, err := ParseRelativePath(path)
	if err != nil {
		return nil, err
	}
	rootDirectory, err := resolveDirectory(ctx, directoryFetcher, rootDigest, components)
	if rootDirectory == nil || err != nil {
		return nil, err
	}

	// Traverse the hierarchy using an explicit stack, so that
	// deeply nested directories cannot exhaust the goroutine's
	// stack.
	digestFunction := rootDigest.GetDigestFunction()
	tree := &remoteexecution.Tree{Root: rootDirectory}
	var stack []*remoteexecution.DirectoryNode
	pushChildren := func(directory *remoteexecution.Directory) {
		for i := len(directory.Directories) - 1; i >= 0; i-- {
			stack = append(stack, directory.Directories[i])
		}
	}
	pushChildren(rootDirectory)
	seen := map[digest.Digest]struct{}{}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		childDigest, err := digestFunction.NewDigestFromProto(node.Digest)
		if err != nil {
			return nil, util.StatusWrapf(err, "Failed to obtain digest for directory %#v", node.Name)
		}
		if _, ok := seen[childDigest]; ok {
			continue
		}
		seen[childDigest] = struct{}{}

		childDirectory, err := directoryFetcher.GetDirectory(ctx, childDigest)
		if err != nil {
			return nil, err
		}
		tree.Children = append(tree.Children, childDirectory)
		pushChildren(childDirectory)
	}
	return tree, nil
}

// GetOutputFile looks up a regular file at a given path below a root
// directory. This can be used to create an ActionResult's OutputFile
// entry. No FileNode is returned if the path does not exist, or if any
// of its components does not refer to the expected type of file.
func GetOutputFile(ctx context.Context, directoryFetcher DirectoryFetcher, rootDigest digest.Digest, path string) (*remoteexecution.FileNode, error) {
	components, err := ParseRelativePath(path)
	if err != nil || len(components) == 0 {
		return nil, err
	}
	parentDirectory, err := resolveDirectory(ctx, directoryFetcher, rootDigest, components[:len(components)-1])
	if parentDirectory == nil || err != nil {
		return nil, err
	}
	return getFileNode(parentDirectory, components[len(components)-1]), nil
}

// GetTreeDigests returns the digests of all objects referenced by a
// Tree: the files contained in any of its directories, and the
// directories below the root. The digest of the root directory is not
// included, as no entries in the Tree refer to it.
func GetTreeDigests(digestFunction digest.Function, tree *remoteexecution.Tree) (digest.Set, error) {
	digests := digest.NewSetBuilder()
	addDirectory := func(directory *remoteexecution.Directory) error {
		for _, node := range directory.GetFiles() {
			fileDigest, err := digestFunction.NewDigestFromProto(node.Digest)
			if err != nil {
				return util.StatusWrapf(err, "Failed to obtain digest for file %#v", node.Name)
			}
			digests.Add(fileDigest)
		}
		for _, node := range directory.GetDirectories() {
			childDigest, err := digestFunction.NewDigestFromProto(node.Digest)
			if err != nil {
				return util.StatusWrapf(err, "Failed to obtain digest for directory %#v", node.Name)
			}
			digests.Add(childDigest)
		}
		return nil
	}
	if err := addDirectory(tree.Root); err != nil {
		return digest.EmptySet, err
	}
	for _, child := range tree.Children {
		if err := addDirectory(child); err != nil {
			return digest.EmptySet, err
		}
	}
	return digests.Build(), nil
}
