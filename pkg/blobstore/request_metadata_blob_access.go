package blobstore

import (
	"context"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-storage/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/blobstore/buffer"
	"github.com/buildbarn/bb-storage/pkg/blobstore/slicing"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
)

// RequestMetadataHeaderName is the gRPC metadata key under which
// clients of the Remote Execution API provide a RequestMetadata
// message.
const RequestMetadataHeaderName = "build.bazel.remote.execution.v2.requestmetadata-bin"

type requestMetadataBlobAccess struct {
	base            blobstore.BlobAccess
	headers         []string
	requestMetadata *remoteexecution.RequestMetadata
}

// NewRequestMetadataBlobAccess is a decorator for BlobAccess that
// attaches gRPC metadata to all outgoing requests. The metadata
// consists of a fixed set of headers (e.g., ones used for
// authentication) and a RequestMetadata message that identifies the
// tool and the invocation on whose behalf requests are made.
func NewRequestMetadataBlobAccess(base blobstore.BlobAccess, headers map[string][]string, requestMetadata *remoteexecution.RequestMetadata) blobstore.BlobAccess {
	var pairs []string
	for key, values := range headers {
		for _, value := range values {
			pairs = append(pairs, key, value)
		}
	}
	return &requestMetadataBlobAccess{
		base:            base,
		headers:         pairs,
		requestMetadata: requestMetadata,
	}
}

func (ba *requestMetadataBlobAccess) newOutgoingContext(ctx context.Context, actionID string) (context.Context, error) {
	requestMetadata := proto.Clone(ba.requestMetadata).(*remoteexecution.RequestMetadata)
	requestMetadata.ActionId = actionID
	data, err := proto.Marshal(requestMetadata)
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to marshal request metadata")
	}
	ctx = metadata.AppendToOutgoingContext(ctx, ba.headers...)
	return metadata.AppendToOutgoingContext(ctx, RequestMetadataHeaderName, string(data)), nil
}

func (ba *requestMetadataBlobAccess) Get(ctx context.Context, blobDigest digest.Digest) buffer.Buffer {
	ctxWithMetadata, err := ba.newOutgoingContext(ctx, blobDigest.GetHashString())
	if err != nil {
		return buffer.NewBufferFromError(err)
	}
	return ba.base.Get(ctxWithMetadata, blobDigest)
}

func (ba *requestMetadataBlobAccess) GetFromComposite(ctx context.Context, parentDigest, childDigest digest.Digest, slicer slicing.BlobSlicer) buffer.Buffer {
	ctxWithMetadata, err := ba.newOutgoingContext(ctx, parentDigest.GetHashString())
	if err != nil {
		return buffer.NewBufferFromError(err)
	}
	return ba.base.GetFromComposite(ctxWithMetadata, parentDigest, childDigest, slicer)
}

func (ba *requestMetadataBlobAccess) Put(ctx context.Context, blobDigest digest.Digest, b buffer.Buffer) error {
	ctxWithMetadata, err := ba.newOutgoingContext(ctx, blobDigest.GetHashString())
	if err != nil {
		b.Discard()
		return err
	}
	return ba.base.Put(ctxWithMetadata, blobDigest, b)
}

func (ba *requestMetadataBlobAccess) FindMissing(ctx context.Context, digests digest.Set) (digest.Set, error) {
	ctxWithMetadata, err := ba.newOutgoingContext(ctx, "")
	if err != nil {
		return digest.EmptySet, err
	}
	return ba.base.FindMissing(ctxWithMetadata, digests)
}

func (ba *requestMetadataBlobAccess) GetCapabilities(ctx context.Context, instanceName digest.InstanceName) (*remoteexecution.ServerCapabilities, error) {
	ctxWithMetadata, err := ba.newOutgoingContext(ctx, "")
	if err != nil {
		return nil, err
	}
	return ba.base.GetCapabilities(ctxWithMetadata, instanceName)
}
