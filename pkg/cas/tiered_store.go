package cas

import (
	"context"
	"sync"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	re_blobstore "github.com/buildbarn/bb-remote-cache/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/blobstore/buffer"
	"github.com/buildbarn/bb-storage/pkg/blobstore/readcaching"
	"github.com/buildbarn/bb-storage/pkg/blobstore/replication"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/eviction"
	"github.com/buildbarn/bb-storage/pkg/util"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// The number of blobs for which existence is checked in a single
// FindMissing() call against the remote tier.
const uploadBatchSize = 1000

type tieredStore struct {
	local blobstore.BlobAccess
	// Remote tier. Nil if the Store only consists of a local tier.
	remote blobstore.BlobAccess
	// Local tier that falls back to the remote tier for reads.
	reader blobstore.BlobAccess
	// Copies blobs from the remote tier into the local tier.
	// Concurrent copies of the same blob are merged. A copy that
	// fails because its caller went away is retried by the
	// callers that were waiting for it.
	replicator              replication.BlobReplicator
	maximumMessageSizeBytes int
	maximumBlobSizeBytes    int
	transferConcurrency     int
	directories             *directoryCache
}

// NewTieredStore creates a Store that records all blobs in a local
// BlobAccess. Reads fall back to the remote BlobAccess if blobs are
// absent locally, in which case they are copied into the local tier.
// The remote BlobAccess may be nil, in which case the Store only
// consists of a local tier.
//
// If directoryCacheSize is positive, the given number of Directory
// messages is cached in memory. transferConcurrency bounds the number
// of blobs that EnsureLocal() and EnsureRemote() copy between the
// tiers in parallel.
func NewTieredStore(local, remote blobstore.BlobAccess, maximumMessageSizeBytes, maximumBlobSizeBytes, directoryCacheSize int, transferConcurrency int64) Store {
	s := &tieredStore{
		local:                   local,
		reader:                  local,
		maximumMessageSizeBytes: maximumMessageSizeBytes,
		maximumBlobSizeBytes:    maximumBlobSizeBytes,
		transferConcurrency:     int(transferConcurrency),
		directories: &directoryCache{
			maximumDirectories: directoryCacheSize,
			directories:        map[string]*remoteexecution.Directory{},
			evictionSet:        eviction.NewMetricsSet(eviction.NewLRUSet[string](), "TieredStoreDirectories"),
		},
	}
	if remote != nil {
		// Blobs that are referenced by an ActionResult, but
		// absent remotely, are reported as a failed
		// precondition instead of a cache miss.
		s.remote = remote
		s.replicator = replication.NewDeduplicatingBlobReplicator(
			replication.NewLocalBlobReplicator(re_blobstore.NewExistencePreconditionBlobAccess(remote), local),
			local,
			digest.KeyWithoutInstance)
		s.reader = readcaching.NewReadCachingBlobAccess(remote, local, s.replicator)
	}
	return s
}

func (s *tieredStore) GetDirectory(ctx context.Context, directoryDigest digest.Digest) (*remoteexecution.Directory, error) {
	key := directoryDigest.GetKey(digest.KeyWithoutInstance)
	if directory, ok := s.directories.get(key); ok {
		return directory, nil
	}
	m, err := s.reader.Get(ctx, directoryDigest).ToProto(&remoteexecution.Directory{}, s.maximumMessageSizeBytes)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to load directory %#v", directoryDigest.String())
	}
	directory := m.(*remoteexecution.Directory)
	s.directories.add(key, directory)
	return directory, nil
}

func (s *tieredStore) GetTree(ctx context.Context, treeDigest digest.Digest) (*remoteexecution.Tree, error) {
	m, err := s.reader.Get(ctx, treeDigest).ToProto(&remoteexecution.Tree{}, s.maximumMessageSizeBytes)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to load tree %#v", treeDigest.String())
	}
	return m.(*remoteexecution.Tree), nil
}

func (s *tieredStore) GetBlob(ctx context.Context, blobDigest digest.Digest) ([]byte, error) {
	data, err := s.reader.Get(ctx, blobDigest).ToByteSlice(s.maximumBlobSizeBytes)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to load blob %#v", blobDigest.String())
	}
	return data, nil
}

func (s *tieredStore) PutBlob(ctx context.Context, digestFunction digest.Function, data []byte) (digest.Digest, error) {
	blobDigest, err := ComputeDigest(digestFunction, data)
	if err != nil {
		return digest.BadDigest, util.StatusWrap(err, "Failed to compute digest")
	}
	if err := s.local.Put(ctx, blobDigest, buffer.NewValidatedBufferFromByteSlice(data)); err != nil {
		return digest.BadDigest, util.StatusWrapf(err, "Failed to store blob %#v", blobDigest.String())
	}
	return blobDigest, nil
}

func (s *tieredStore) PutMessage(ctx context.Context, digestFunction digest.Function, m proto.Message) (digest.Digest, error) {
	data, err := MarshalMessage(m)
	if err != nil {
		return digest.BadDigest, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to marshal message")
	}
	return s.PutBlob(ctx, digestFunction, data)
}

func (s *tieredStore) EnsureLocal(ctx context.Context, digests digest.Set) error {
	missing, err := s.local.FindMissing(ctx, digests)
	if err != nil {
		return util.StatusWrap(err, "Failed to determine which blobs are absent from local storage")
	}
	if s.replicator == nil {
		if blobDigest, ok := missing.First(); ok {
			return status.Errorf(codes.NotFound, "Blob %#v is absent from local storage", blobDigest.String())
		}
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.transferConcurrency)
	for _, blobDigest := range missing.Items() {
		group.Go(func() error {
			if err := s.replicator.ReplicateMultiple(groupCtx, blobDigest.ToSingletonSet()); err != nil {
				return util.StatusWrapf(err, "Failed to copy blob %#v into local storage", blobDigest.String())
			}
			return nil
		})
	}
	return group.Wait()
}

func (s *tieredStore) HasRemote() bool {
	return s.remote != nil
}

func (s *tieredStore) EnsureRemote(ctx context.Context, digests digest.Set) error {
	if s.remote == nil {
		return status.Error(codes.FailedPrecondition, "No remote storage tier is configured")
	}

	// Check for existence in batches, so that the size of
	// FindMissing() requests remains bounded.
	pending := digests.Items()
	for len(pending) > 0 {
		batchSize := min(len(pending), uploadBatchSize)
		batch := digest.NewSetBuilder()
		for _, blobDigest := range pending[:batchSize] {
			batch.Add(blobDigest)
		}
		pending = pending[batchSize:]

		if err := s.uploadMissing(ctx, batch.Build()); err != nil {
			return util.StatusWrap(err, "Failed to upload blobs to remote storage")
		}
	}
	return nil
}

func (s *tieredStore) uploadMissing(ctx context.Context, digests digest.Set) error {
	missing, err := s.remote.FindMissing(ctx, digests)
	if err != nil {
		return util.StatusWrap(err, "Failed to determine which blobs are absent from remote storage")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.transferConcurrency)
	for _, blobDigest := range missing.Items() {
		group.Go(func() error {
			if err := s.remote.Put(groupCtx, blobDigest, s.local.Get(groupCtx, blobDigest)); err != nil {
				return util.StatusWrapf(err, "Failed to upload blob %#v", blobDigest.String())
			}
			return nil
		})
	}
	return group.Wait()
}

// directoryCache holds a bounded number of unmarshaled Directory
// messages. Output directories of cache hits and of subsequent local
// executions tend to share most of their structure.
type directoryCache struct {
	maximumDirectories int

	lock        sync.Mutex
	directories map[string]*remoteexecution.Directory
	evictionSet eviction.Set[string]
}

func (c *directoryCache) get(key string) (*remoteexecution.Directory, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	directory, ok := c.directories[key]
	if ok {
		c.evictionSet.Touch(key)
	}
	return directory, ok
}

func (c *directoryCache) add(key string, directory *remoteexecution.Directory) {
	if c.maximumDirectories <= 0 {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := c.directories[key]; ok {
		return
	}
	for len(c.directories) >= c.maximumDirectories {
		evictedKey := c.evictionSet.Peek()
		c.evictionSet.Remove()
		delete(c.directories, evictedKey)
	}
	c.evictionSet.Insert(key)
	c.directories[key] = directory
}
