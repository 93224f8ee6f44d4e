package blobstore

import (
	"context"
	"sync"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-storage/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/blobstore/buffer"
	"github.com/buildbarn/bb-storage/pkg/blobstore/slicing"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"

	"golang.org/x/sync/semaphore"
)

type concurrencyLimitingBlobAccess struct {
	base      blobstore.BlobAccess
	semaphore *semaphore.Weighted
}

// NewConcurrencyLimitingBlobAccess is a decorator for BlobAccess that
// bounds the number of operations that are in flight against a
// backend. Operations that exceed the limit block until capacity
// becomes available, or until their context is cancelled. For Get()
// operations capacity is held until the returned buffer has been
// consumed or discarded, unless the buffer is already in memory.
//
// The same semaphore may be shared by multiple instances, so that the
// total number of RPCs against a remote cache is bounded.
func NewConcurrencyLimitingBlobAccess(base blobstore.BlobAccess, semaphore *semaphore.Weighted) blobstore.BlobAccess {
	return &concurrencyLimitingBlobAccess{
		base:      base,
		semaphore: semaphore,
	}
}

func (ba *concurrencyLimitingBlobAccess) acquire(ctx context.Context) error {
	if err := ba.semaphore.Acquire(ctx, 1); err != nil {
		return util.StatusFromContext(ctx)
	}
	return nil
}

func (ba *concurrencyLimitingBlobAccess) Get(ctx context.Context, digest digest.Digest) buffer.Buffer {
	if err := ba.acquire(ctx); err != nil {
		return buffer.NewBufferFromError(err)
	}
	return buffer.WithErrorHandler(
		ba.base.Get(ctx, digest),
		&releasingErrorHandler{semaphore: ba.semaphore})
}

func (ba *concurrencyLimitingBlobAccess) GetFromComposite(ctx context.Context, parentDigest, childDigest digest.Digest, slicer slicing.BlobSlicer) buffer.Buffer {
	if err := ba.acquire(ctx); err != nil {
		return buffer.NewBufferFromError(err)
	}
	return buffer.WithErrorHandler(
		ba.base.GetFromComposite(ctx, parentDigest, childDigest, slicer),
		&releasingErrorHandler{semaphore: ba.semaphore})
}

func (ba *concurrencyLimitingBlobAccess) Put(ctx context.Context, digest digest.Digest, b buffer.Buffer) error {
	if err := ba.acquire(ctx); err != nil {
		b.Discard()
		return err
	}
	defer ba.semaphore.Release(1)

	return ba.base.Put(ctx, digest, b)
}

func (ba *concurrencyLimitingBlobAccess) FindMissing(ctx context.Context, digests digest.Set) (digest.Set, error) {
	if err := ba.acquire(ctx); err != nil {
		return digest.EmptySet, err
	}
	defer ba.semaphore.Release(1)

	return ba.base.FindMissing(ctx, digests)
}

func (ba *concurrencyLimitingBlobAccess) GetCapabilities(ctx context.Context, instanceName digest.InstanceName) (*remoteexecution.ServerCapabilities, error) {
	if err := ba.acquire(ctx); err != nil {
		return nil, err
	}
	defer ba.semaphore.Release(1)

	return ba.base.GetCapabilities(ctx, instanceName)
}

type releasingErrorHandler struct {
	semaphore *semaphore.Weighted
	once      sync.Once
}

func (eh *releasingErrorHandler) OnError(err error) (buffer.Buffer, error) {
	return nil, err
}

func (eh *releasingErrorHandler) Done() {
	eh.once.Do(func() { eh.semaphore.Release(1) })
}
