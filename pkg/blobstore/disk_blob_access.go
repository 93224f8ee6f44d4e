package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-storage/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/blobstore/buffer"
	"github.com/buildbarn/bb-storage/pkg/blobstore/slicing"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/gofrs/flock"
	"github.com/pierrec/lz4/v4"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	diskBlobAccessPrometheusMetrics sync.Once

	diskBlobAccessCorruptedBlobs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "remote_cache",
			Name:      "disk_blob_access_corrupted_blobs_total",
			Help:      "Number of blobs that were removed from local storage, because their contents did not match their digest.",
		})
)

type diskBlobAccess struct {
	path                 string
	maximumBlobSizeBytes int
}

// NewDiskBlobAccess creates a BlobAccess for the Content Addressable
// Storage that stores blobs as LZ4 compressed files in a directory on
// the local file system. Blobs are written to temporary files that are
// renamed into place, so that readers never observe partially written
// blobs. Writes are serialized across processes using file locks, so
// that multiple processes may share the same directory.
func NewDiskBlobAccess(path string, maximumBlobSizeBytes int) (blobstore.BlobAccess, error) {
	diskBlobAccessPrometheusMetrics.Do(func() {
		prometheus.MustRegister(diskBlobAccessCorruptedBlobs)
	})

	if err := os.MkdirAll(filepath.Join(path, "locks"), 0o777); err != nil {
		return nil, util.StatusWrapfWithCode(err, codes.Internal, "Failed to create storage directory %#v", path)
	}
	return &diskBlobAccess{
		path:                 path,
		maximumBlobSizeBytes: maximumBlobSizeBytes,
	}, nil
}

// getBlobPath returns the location at which a blob is stored. Blobs are
// spread out over a number of subdirectories to keep directory sizes
// manageable. The instance name is not part of the path, as the
// contents of blobs do not depend on it.
func (ba *diskBlobAccess) getBlobPath(blobDigest digest.Digest) (string, string) {
	hash := blobDigest.GetHashString()
	shard := strings.ToLower(blobDigest.GetDigestFunction().GetEnumValue().String()) + "-" + hash[:2]
	return filepath.Join(ba.path, shard), fmt.Sprintf("%s-%d", hash, blobDigest.GetSizeBytes())
}

func (ba *diskBlobAccess) Get(ctx context.Context, blobDigest digest.Digest) buffer.Buffer {
	directory, name := ba.getBlobPath(blobDigest)
	blobPath := filepath.Join(directory, name)
	f, err := os.Open(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			return buffer.NewBufferFromError(status.Errorf(codes.NotFound, "Blob %#v not found", blobDigest.String()))
		}
		return buffer.NewBufferFromError(util.StatusWrapWithCode(err, codes.Internal, "Failed to open blob"))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(lz4.NewReader(f), int64(ba.maximumBlobSizeBytes)+1))
	if err != nil {
		return buffer.NewBufferFromError(util.StatusWrapWithCode(err, codes.Internal, "Failed to decompress blob"))
	}
	if len(data) > ba.maximumBlobSizeBytes {
		return buffer.NewBufferFromError(status.Errorf(codes.InvalidArgument, "Blob is larger than the maximum size of %d bytes", ba.maximumBlobSizeBytes))
	}
	return buffer.NewCASBufferFromByteSlice(blobDigest, data, buffer.BackendProvided(func(dataIsValid bool) {
		if !dataIsValid {
			// Remove corrupted blobs, so that they may be
			// replaced by a subsequent Put().
			if err := os.Remove(blobPath); err == nil {
				diskBlobAccessCorruptedBlobs.Inc()
			}
		}
	}))
}

func (ba *diskBlobAccess) GetFromComposite(ctx context.Context, parentDigest, childDigest digest.Digest, slicer slicing.BlobSlicer) buffer.Buffer {
	return buffer.NewBufferFromError(status.Error(codes.Unimplemented, "Local storage does not support slicing composite blobs"))
}

func (ba *diskBlobAccess) Put(ctx context.Context, blobDigest digest.Digest, b buffer.Buffer) error {
	data, err := b.ToByteSlice(ba.maximumBlobSizeBytes)
	if err != nil {
		return err
	}

	directory, name := ba.getBlobPath(blobDigest)
	blobPath := filepath.Join(directory, name)
	if _, err := os.Stat(blobPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(directory, 0o777); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to create storage directory")
	}

	// Serialize writes against the same shard across processes.
	fileLock := flock.New(filepath.Join(ba.path, "locks", filepath.Base(directory)+".lock"))
	if _, err := fileLock.TryLockContext(ctx, 10*time.Millisecond); err != nil {
		if ctxErr := util.StatusFromContext(ctx); ctxErr != nil {
			return ctxErr
		}
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to acquire lock")
	}
	defer fileLock.Unlock()

	// Another process may have stored the blob in the meantime.
	if _, err := os.Stat(blobPath); err == nil {
		return nil
	}

	f, err := os.CreateTemp(directory, ".tmp-"+name+"-*")
	if err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to create temporary file")
	}
	w := lz4.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to write blob")
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to flush blob")
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to close blob")
	}
	if err := os.Rename(f.Name(), blobPath); err != nil {
		os.Remove(f.Name())
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to move blob into place")
	}
	return nil
}

func (ba *diskBlobAccess) FindMissing(ctx context.Context, digests digest.Set) (digest.Set, error) {
	missing := digest.NewSetBuilder()
	for _, blobDigest := range digests.Items() {
		directory, name := ba.getBlobPath(blobDigest)
		if _, err := os.Stat(filepath.Join(directory, name)); err != nil {
			if !os.IsNotExist(err) {
				return digest.EmptySet, util.StatusWrapfWithCode(err, codes.Internal, "Failed to check existence of blob %#v", blobDigest.String())
			}
			missing.Add(blobDigest)
		}
	}
	return missing.Build(), nil
}

func (ba *diskBlobAccess) GetCapabilities(ctx context.Context, instanceName digest.InstanceName) (*remoteexecution.ServerCapabilities, error) {
	return nil, status.Error(codes.Unimplemented, "Local storage does not provide capabilities")
}
