package cas

import (
	"context"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-storage/pkg/digest"

	"google.golang.org/protobuf/proto"
)

// DirectoryFetcher loads Directory messages, either from the input root
// of a process or from the outputs it yielded.
type DirectoryFetcher interface {
	GetDirectory(ctx context.Context, directoryDigest digest.Digest) (*remoteexecution.Directory, error)
}

// Store is the content addressed storage that is shared by all
// processes that are run through the caching command runner. It
// consists of a local tier, in which all outputs of local executions
// are recorded, and an optional remote tier that backs the remote
// action cache.
//
// All operations are safe to call concurrently, also when they refer
// to identical digests.
type Store interface {
	DirectoryFetcher

	// GetTree loads a Tree message that is referenced by an
	// OutputDirectory entry of an ActionResult.
	GetTree(ctx context.Context, treeDigest digest.Digest) (*remoteexecution.Tree, error)
	// GetBlob loads the contents of a blob. Blobs are copied from
	// the remote tier into the local tier if needed.
	GetBlob(ctx context.Context, blobDigest digest.Digest) ([]byte, error)
	// PutBlob records a blob in the local tier, returning its
	// digest.
	PutBlob(ctx context.Context, digestFunction digest.Function, data []byte) (digest.Digest, error)
	// PutMessage records the deterministic serialization of a
	// Protobuf message in the local tier, returning its digest.
	PutMessage(ctx context.Context, digestFunction digest.Function, m proto.Message) (digest.Digest, error)

	// EnsureLocal copies any of the provided blobs that are absent
	// from the local tier from the remote tier.
	EnsureLocal(ctx context.Context, digests digest.Set) error
	// EnsureRemote uploads any of the provided blobs that are
	// absent from the remote tier from the local tier.
	EnsureRemote(ctx context.Context, digests digest.Set) error
	// HasRemote returns whether the Store is backed by a remote
	// tier.
	HasRemote() bool
}

// MarshalMessage returns the serialized form of a Protobuf message
// that is used to compute its digest. Serialization is deterministic,
// so that identical messages always yield identical digests.
func MarshalMessage(m proto.Message) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

// ComputeDigest computes the digest of a blob without storing it.
func ComputeDigest(digestFunction digest.Function, data []byte) (digest.Digest, error) {
	digestGenerator := digestFunction.NewGenerator(int64(len(data)))
	if _, err := digestGenerator.Write(data); err != nil {
		return digest.BadDigest, err
	}
	return digestGenerator.Sum(), nil
}
