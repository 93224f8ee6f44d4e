package blobstore_test

import (
	"context"
	"testing"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-remote-cache/internal/mock"
	"github.com/buildbarn/bb-remote-cache/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/blobstore/buffer"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
)

func TestRequestMetadataBlobAccess(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	baseBlobAccess := mock.NewMockBlobAccess(ctrl)
	blobAccess := blobstore.NewRequestMetadataBlobAccess(
		baseBlobAccess,
		map[string][]string{
			"authorization": {"Bearer token"},
		},
		&remoteexecution.RequestMetadata{
			ToolDetails: &remoteexecution.ToolDetails{
				ToolName: "bb_remote_cache_run",
			},
			ToolInvocationId: "0b4d5f6c-4b2b-4c83-a0b1-6f4f3c1e2d11",
		})

	requireMetadata := func(t *testing.T, ctx context.Context, expectedActionID string) {
		md, ok := metadata.FromOutgoingContext(ctx)
		require.True(t, ok)
		require.Equal(t, []string{"Bearer token"}, md.Get("authorization"))

		values := md.Get(blobstore.RequestMetadataHeaderName)
		require.Len(t, values, 1)
		var requestMetadata remoteexecution.RequestMetadata
		require.NoError(t, proto.Unmarshal([]byte(values[0]), &requestMetadata))
		testutil.RequireEqualProto(t, &remoteexecution.RequestMetadata{
			ToolDetails: &remoteexecution.ToolDetails{
				ToolName: "bb_remote_cache_run",
			},
			ActionId:         expectedActionID,
			ToolInvocationId: "0b4d5f6c-4b2b-4c83-a0b1-6f4f3c1e2d11",
		}, &requestMetadata)
	}

	t.Run("Get", func(t *testing.T) {
		baseBlobAccess.EXPECT().Get(gomock.Any(), digestHello).DoAndReturn(
			func(ctx context.Context, digest digest.Digest) buffer.Buffer {
				requireMetadata(t, ctx, "8b1a9953c4611296a827abf8c47804d7")
				return buffer.NewValidatedBufferFromByteSlice([]byte("Hello"))
			})

		data, err := blobAccess.Get(ctx, digestHello).ToByteSlice(100)
		require.NoError(t, err)
		require.Equal(t, []byte("Hello"), data)
	})

	t.Run("FindMissing", func(t *testing.T) {
		baseBlobAccess.EXPECT().FindMissing(gomock.Any(), digestHello.ToSingletonSet()).DoAndReturn(
			func(ctx context.Context, digests digest.Set) (digest.Set, error) {
				requireMetadata(t, ctx, "")
				return digest.EmptySet, nil
			})

		missing, err := blobAccess.FindMissing(ctx, digestHello.ToSingletonSet())
		require.NoError(t, err)
		require.Equal(t, digest.EmptySet, missing)
	})
}
