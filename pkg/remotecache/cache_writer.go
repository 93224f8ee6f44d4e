package remotecache

import (
	"context"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-remote-cache/pkg/process"
	"github.com/buildbarn/bb-storage/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/blobstore/buffer"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheWriterWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "remote_cache",
			Name:      "cache_writer_writes_total",
			Help:      "Number of results of locally run processes written to the remote action cache, by outcome.",
		},
		[]string{"outcome"})
	cacheWriterWritesSuccess = cacheWriterWrites.WithLabelValues("Success")
	cacheWriterWritesError   = cacheWriterWrites.WithLabelValues("Error")
)

// cacheWriter publishes results of processes that ran locally to the
// remote action cache.
type cacheWriter struct {
	store           cas.Store
	actionCache     blobstore.BlobAccess
	backgroundGroup program.Group
	errorLogger     util.ErrorLogger
}

// writeAsync schedules the result of an action to be written to the
// remote action cache. This function does not block. Failures are
// reported through the ErrorLogger, as writing to the cache is best
// effort.
func (cw *cacheWriter) writeAsync(actionDigest digest.Digest, command *remoteexecution.Command, result *process.Result) {
	cw.backgroundGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		if err := cw.write(ctx, actionDigest, command, result); err != nil {
			cacheWriterWritesError.Inc()
			cw.errorLogger.Log(util.StatusWrapf(err, "Failed to write action %#v to remote cache", actionDigest.String()))
		} else {
			cacheWriterWritesSuccess.Inc()
		}
		// Returning an error would cause the entire group
		// to terminate.
		return nil
	})
}

func (cw *cacheWriter) write(ctx context.Context, actionDigest digest.Digest, command *remoteexecution.Command, result *process.Result) error {
	actionResult, digests, err := NewActionResult(ctx, cw.store, command, result)
	if err != nil {
		return util.StatusWrap(err, "Failed to create action result")
	}
	// The ActionResult may only be published once all blobs it
	// references are present remotely.
	if err := cw.store.EnsureRemote(ctx, digests); err != nil {
		return util.StatusWrap(err, "Failed to upload outputs")
	}
	if err := cw.actionCache.Put(ctx, actionDigest, buffer.NewProtoBufferFromProto(actionResult, buffer.UserProvided)); err != nil {
		return util.StatusWrap(err, "Failed to store action result")
	}
	return nil
}
