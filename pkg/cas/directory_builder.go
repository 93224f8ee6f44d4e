package cas

import (
	"context"
	"sort"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type builderDirectory struct {
	// If set, the contents of this directory are identical to those
	// of a directory that is already present in the Store, and have
	// not been loaded yet.
	hasExistingDigest bool
	existingDigest    digest.Digest

	directories map[string]*builderDirectory
	files       map[string]*remoteexecution.FileNode
	symlinks    map[string]*remoteexecution.SymlinkNode
}

func newBuilderDirectory() *builderDirectory {
	return &builderDirectory{
		directories: map[string]*builderDirectory{},
		files:       map[string]*remoteexecution.FileNode{},
		symlinks:    map[string]*remoteexecution.SymlinkNode{},
	}
}

func newExistingBuilderDirectory(directoryDigest digest.Digest) *builderDirectory {
	d := newBuilderDirectory()
	d.hasExistingDigest = true
	d.existingDigest = directoryDigest
	return d
}

func (d *builderDirectory) isEmpty() bool {
	return !d.hasExistingDigest && len(d.directories) == 0 && len(d.files) == 0 && len(d.symlinks) == 0
}

func (d *builderDirectory) checkNameAvailable(name string, allowDirectory bool) error {
	if _, ok := d.directories[name]; ok && !allowDirectory {
		return status.Errorf(codes.InvalidArgument, "Path %#v is already a directory", name)
	}
	if _, ok := d.files[name]; ok {
		return status.Errorf(codes.InvalidArgument, "Path %#v is already a regular file", name)
	}
	if _, ok := d.symlinks[name]; ok {
		return status.Errorf(codes.InvalidArgument, "Path %#v is already a symbolic link", name)
	}
	return nil
}

// expand loads the contents of a directory that has been added by
// digest, so that additional entries may be placed inside of it.
func (d *builderDirectory) expand(ctx context.Context, b *DirectoryBuilder) error {
	if !d.hasExistingDigest {
		return nil
	}
	directory, err := b.store.GetDirectory(ctx, d.existingDigest)
	if err != nil {
		return err
	}
	d.hasExistingDigest = false
	for _, node := range directory.Files {
		d.files[node.Name] = node
	}
	for _, node := range directory.Symlinks {
		d.symlinks[node.Name] = node
	}
	for _, node := range directory.Directories {
		childDigest, err := b.digestFunction.NewDigestFromProto(node.Digest)
		if err != nil {
			return util.StatusWrapf(err, "Failed to obtain digest for directory %#v", node.Name)
		}
		d.directories[node.Name] = newExistingBuilderDirectory(childDigest)
	}
	return nil
}

func (d *builderDirectory) getOrCreateDirectory(ctx context.Context, b *DirectoryBuilder, name string) (*builderDirectory, error) {
	if err := d.expand(ctx, b); err != nil {
		return nil, err
	}
	if err := d.checkNameAvailable(name, true); err != nil {
		return nil, err
	}
	child, ok := d.directories[name]
	if !ok {
		child = newBuilderDirectory()
		d.directories[name] = child
	}
	return child, nil
}

func (d *builderDirectory) addFile(name string, node *remoteexecution.FileNode) error {
	if existing, ok := d.files[name]; ok {
		if existing.Digest.GetHash() != node.Digest.GetHash() ||
			existing.Digest.GetSizeBytes() != node.Digest.GetSizeBytes() ||
			existing.IsExecutable != node.IsExecutable {
			return status.Errorf(codes.InvalidArgument, "Path %#v is already a regular file with different contents", name)
		}
		return nil
	}
	if err := d.checkNameAvailable(name, false); err != nil {
		return err
	}
	d.files[name] = node
	return nil
}

func (d *builderDirectory) addSymlink(name string, node *remoteexecution.SymlinkNode) error {
	if existing, ok := d.symlinks[name]; ok {
		if existing.Target != node.Target {
			return status.Errorf(codes.InvalidArgument, "Path %#v is already a symbolic link with a different target", name)
		}
		return nil
	}
	if err := d.checkNameAvailable(name, false); err != nil {
		return err
	}
	d.symlinks[name] = node
	return nil
}

// mergeDirectory adds the contents of an existing directory to this
// directory. Entries that are present in both must be identical.
func (d *builderDirectory) mergeDirectory(ctx context.Context, b *DirectoryBuilder, directoryDigest digest.Digest) error {
	if d.hasExistingDigest && d.existingDigest == directoryDigest {
		return nil
	}
	if d.isEmpty() {
		d.hasExistingDigest = true
		d.existingDigest = directoryDigest
		return nil
	}

	if err := d.expand(ctx, b); err != nil {
		return err
	}
	directory, err := b.store.GetDirectory(ctx, directoryDigest)
	if err != nil {
		return err
	}
	for _, node := range directory.Files {
		if err := d.addFile(node.Name, node); err != nil {
			return err
		}
	}
	for _, node := range directory.Symlinks {
		if err := d.addSymlink(node.Name, node); err != nil {
			return err
		}
	}
	for _, node := range directory.Directories {
		childDigest, err := b.digestFunction.NewDigestFromProto(node.Digest)
		if err != nil {
			return util.StatusWrapf(err, "Failed to obtain digest for directory %#v", node.Name)
		}
		child, err := d.getOrCreateDirectory(ctx, b, node.Name)
		if err != nil {
			return err
		}
		if err := child.mergeDirectory(ctx, b, childDigest); err != nil {
			return util.StatusWrapf(err, "Failed to merge directory %#v", node.Name)
		}
	}
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (d *builderDirectory) build(ctx context.Context, b *DirectoryBuilder) (digest.Digest, error) {
	if d.hasExistingDigest {
		return d.existingDigest, nil
	}

	directory := &remoteexecution.Directory{}
	for _, name := range sortedKeys(d.directories) {
		childDigest, err := d.directories[name].build(ctx, b)
		if err != nil {
			return digest.BadDigest, util.StatusWrapf(err, "Directory %#v", name)
		}
		directory.Directories = append(directory.Directories, &remoteexecution.DirectoryNode{
			Name:   name,
			Digest: childDigest.GetProto(),
		})
	}
	for _, name := range sortedKeys(d.files) {
		directory.Files = append(directory.Files, d.files[name])
	}
	for _, name := range sortedKeys(d.symlinks) {
		directory.Symlinks = append(directory.Symlinks, d.symlinks[name])
	}
	return b.store.PutMessage(ctx, b.digestFunction, directory)
}

// DirectoryBuilder constructs a directory hierarchy out of regular
// files, symbolic links and existing directories that are placed at
// arbitrary paths. Upon completion, all directories are recorded in
// the Store, and the digest of the root directory is returned.
//
// DirectoryBuilder is used both to capture the outputs of local
// executions and to reconstruct the output directory of a process from
// the entries of a cached ActionResult.
type DirectoryBuilder struct {
	store          Store
	digestFunction digest.Function
	root           *builderDirectory
}

// NewDirectoryBuilder creates a DirectoryBuilder that initially
// contains an empty root directory.
func NewDirectoryBuilder(store Store, digestFunction digest.Function) *DirectoryBuilder {
	return &DirectoryBuilder{
		store:          store,
		digestFunction: digestFunction,
		root:           newBuilderDirectory(),
	}
}

// lookupParent returns the directory in which the final component of
// a path should be placed, creating any intermediate directories.
func (b *DirectoryBuilder) lookupParent(ctx context.Context, path string) (*builderDirectory, string, error) {
	components, err := ParseRelativePath(path)
	if err != nil {
		return nil, "", err
	}
	if len(components) == 0 {
		return nil, "", status.Error(codes.InvalidArgument, "Path refers to the root directory")
	}
	d := b.root
	for _, component := range components[:len(components)-1] {
		if d, err = d.getOrCreateDirectory(ctx, b, component); err != nil {
			return nil, "", util.StatusWrapf(err, "Failed to create parent directory of %#v", path)
		}
	}
	if err := d.expand(ctx, b); err != nil {
		return nil, "", err
	}
	return d, components[len(components)-1], nil
}

// AddFile places a regular file at a given path.
func (b *DirectoryBuilder) AddFile(ctx context.Context, path string, fileDigest digest.Digest, isExecutable bool) error {
	d, name, err := b.lookupParent(ctx, path)
	if err != nil {
		return err
	}
	return d.addFile(name, &remoteexecution.FileNode{
		Name:         name,
		Digest:       fileDigest.GetProto(),
		IsExecutable: isExecutable,
	})
}

// AddSymlink places a symbolic link at a given path.
func (b *DirectoryBuilder) AddSymlink(ctx context.Context, path, target string) error {
	d, name, err := b.lookupParent(ctx, path)
	if err != nil {
		return err
	}
	return d.addSymlink(name, &remoteexecution.SymlinkNode{
		Name:   name,
		Target: target,
	})
}

// AddDirectory places the contents of a directory that is already
// present in the Store at a given path. If a directory already exists
// at that path, the contents of both are merged. The empty path refers
// to the root directory.
func (b *DirectoryBuilder) AddDirectory(ctx context.Context, path string, directoryDigest digest.Digest) error {
	if path == "" {
		return b.root.mergeDirectory(ctx, b, directoryDigest)
	}
	d, name, err := b.lookupParent(ctx, path)
	if err != nil {
		return err
	}
	child, err := d.getOrCreateDirectory(ctx, b, name)
	if err != nil {
		return err
	}
	return child.mergeDirectory(ctx, b, directoryDigest)
}

// AddEmptyDirectory ensures that a directory exists at a given path.
func (b *DirectoryBuilder) AddEmptyDirectory(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	d, name, err := b.lookupParent(ctx, path)
	if err != nil {
		return err
	}
	_, err = d.getOrCreateDirectory(ctx, b, name)
	return err
}

// AddTree records all directories contained in a Tree message in the
// Store, and places the root directory of the Tree at a given path.
func (b *DirectoryBuilder) AddTree(ctx context.Context, path string, tree *remoteexecution.Tree) error {
	for _, child := range tree.Children {
		if _, err := b.store.PutMessage(ctx, b.digestFunction, child); err != nil {
			return util.StatusWrap(err, "Failed to store child directory of tree")
		}
	}
	root := tree.Root
	if root == nil {
		root = &remoteexecution.Directory{}
	}
	rootDigest, err := b.store.PutMessage(ctx, b.digestFunction, root)
	if err != nil {
		return util.StatusWrap(err, "Failed to store root directory of tree")
	}
	return b.AddDirectory(ctx, path, rootDigest)
}

// Build records all directories that were constructed in the Store,
// returning the digest of the root directory.
func (b *DirectoryBuilder) Build(ctx context.Context) (digest.Digest, error) {
	return b.root.build(ctx, b)
}
