package remotecache

import (
	"context"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-remote-cache/pkg/process"
	"github.com/buildbarn/bb-storage/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	cacheReaderLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "remote_cache",
			Name:      "cache_reader_lookups_total",
			Help:      "Number of lookups performed against the remote action cache, by outcome.",
		},
		[]string{"outcome"})
	cacheReaderLookupsHit   = cacheReaderLookups.WithLabelValues("Hit")
	cacheReaderLookupsMiss  = cacheReaderLookups.WithLabelValues("Miss")
	cacheReaderLookupsError = cacheReaderLookups.WithLabelValues("Error")

	cacheReaderLookupDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "remote_cache",
			Name:      "cache_reader_lookup_duration_seconds",
			Help:      "Amount of time spent looking up results in the remote action cache, including fetching outputs, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		})
)

// cacheReader looks up results of processes in the remote action
// cache, and converts them to the Result type returned by
// CommandRunner.
type cacheReader struct {
	store                   cas.Store
	actionCache             blobstore.BlobAccess
	clock                   clock.Clock
	eagerFetch              bool
	platform                process.Platform
	maximumMessageSizeBytes int
}

// read returns the cached result of an action. A nil result without
// an error is returned if the action is not present in the action
// cache.
func (cr *cacheReader) read(ctx context.Context, actionDigest digest.Digest) (*process.Result, error) {
	timeStart := cr.clock.Now()
	result, err := cr.readUntimed(ctx, actionDigest)
	cacheReaderLookupDurationSeconds.Observe(cr.clock.Now().Sub(timeStart).Seconds())
	if err != nil {
		cacheReaderLookupsError.Inc()
	} else if result == nil {
		cacheReaderLookupsMiss.Inc()
	} else {
		cacheReaderLookupsHit.Inc()
	}
	return result, err
}

func (cr *cacheReader) readUntimed(ctx context.Context, actionDigest digest.Digest) (*process.Result, error) {
	m, err := cr.actionCache.Get(ctx, actionDigest).ToProto(&remoteexecution.ActionResult{}, cr.maximumMessageSizeBytes)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, util.StatusWrap(err, "Failed to load action result")
	}
	actionResult := m.(*remoteexecution.ActionResult)

	digestFunction := actionDigest.GetDigestFunction()
	if cr.eagerFetch {
		if err := cr.fetchOutputs(ctx, digestFunction, actionResult); err != nil {
			return nil, err
		}
	}
	return cr.newResult(ctx, digestFunction, actionResult)
}

// fetchOutputs copies all blobs referenced by an ActionResult into the
// local tier of the Store. This ensures that a cache hit does not
// reference outputs that have been evicted from the remote tier.
func (cr *cacheReader) fetchOutputs(ctx context.Context, digestFunction digest.Function, actionResult *remoteexecution.ActionResult) error {
	digests := digest.NewSetBuilder()
	addDigest := func(d *remoteexecution.Digest, description string) error {
		if d == nil {
			return nil
		}
		blobDigest, err := digestFunction.NewDigestFromProto(d)
		if err != nil {
			return util.StatusWrapf(err, "Invalid digest for %s", description)
		}
		digests.Add(blobDigest)
		return nil
	}
	if err := addDigest(actionResult.StdoutDigest, "standard output"); err != nil {
		return err
	}
	if err := addDigest(actionResult.StderrDigest, "standard error"); err != nil {
		return err
	}
	for _, outputFile := range actionResult.OutputFiles {
		if err := addDigest(outputFile.Digest, "output file "+outputFile.Path); err != nil {
			return err
		}
	}
	var treeDigests []digest.Digest
	for _, outputDirectory := range actionResult.OutputDirectories {
		treeDigest, err := digestFunction.NewDigestFromProto(outputDirectory.TreeDigest)
		if err != nil {
			return util.StatusWrapf(err, "Invalid tree digest for output directory %#v", outputDirectory.Path)
		}
		digests.Add(treeDigest)
		treeDigests = append(treeDigests, treeDigest)
	}
	if err := cr.store.EnsureLocal(ctx, digests.Build()); err != nil {
		return util.StatusWrap(err, "Failed to fetch outputs")
	}

	// Trees are now present locally. Fetch the files and
	// directories they reference.
	treeContents := digest.NewSetBuilder()
	for _, treeDigest := range treeDigests {
		tree, err := cr.store.GetTree(ctx, treeDigest)
		if err != nil {
			return err
		}
		treeContentsDigests, err := cas.GetTreeDigests(digestFunction, tree)
		if err != nil {
			return util.StatusWrapf(err, "Invalid tree %#v", treeDigest.String())
		}
		for _, d := range treeContentsDigests.Items() {
			treeContents.Add(d)
		}
	}
	if err := cr.store.EnsureLocal(ctx, treeContents.Build()); err != nil {
		return util.StatusWrap(err, "Failed to fetch contents of output directories")
	}
	return nil
}

// getOutputStreamDigest returns the digest of standard output or
// standard error of a cached action. Streams may either be referenced
// by digest or be stored inline.
func (cr *cacheReader) getOutputStreamDigest(ctx context.Context, digestFunction digest.Function, d *remoteexecution.Digest, raw []byte) (digest.Digest, error) {
	if d != nil {
		return digestFunction.NewDigestFromProto(d)
	}
	return cr.store.PutBlob(ctx, digestFunction, raw)
}

// newResult converts an ActionResult to a Result. As a Result only
// contains a single digest for all outputs, a new root directory is
// constructed containing all output files, directories and symbolic
// links at their respective paths.
func (cr *cacheReader) newResult(ctx context.Context, digestFunction digest.Function, actionResult *remoteexecution.ActionResult) (*process.Result, error) {
	stdoutDigest, err := cr.getOutputStreamDigest(ctx, digestFunction, actionResult.StdoutDigest, actionResult.StdoutRaw)
	if err != nil {
		return nil, util.StatusWrap(err, "Invalid standard output")
	}
	stderrDigest, err := cr.getOutputStreamDigest(ctx, digestFunction, actionResult.StderrDigest, actionResult.StderrRaw)
	if err != nil {
		return nil, util.StatusWrap(err, "Invalid standard error")
	}

	outputDirectoryBuilder := cas.NewDirectoryBuilder(cr.store, digestFunction)
	for _, outputDirectory := range actionResult.OutputDirectories {
		treeDigest, err := digestFunction.NewDigestFromProto(outputDirectory.TreeDigest)
		if err != nil {
			return nil, util.StatusWrapf(err, "Invalid tree digest for output directory %#v", outputDirectory.Path)
		}
		tree, err := cr.store.GetTree(ctx, treeDigest)
		if err != nil {
			return nil, util.StatusWrapf(err, "Output directory %#v", outputDirectory.Path)
		}
		if err := outputDirectoryBuilder.AddTree(ctx, outputDirectory.Path, tree); err != nil {
			return nil, util.StatusWrapf(err, "Output directory %#v", outputDirectory.Path)
		}
	}
	for _, outputFile := range actionResult.OutputFiles {
		fileDigest, err := digestFunction.NewDigestFromProto(outputFile.Digest)
		if err != nil {
			return nil, util.StatusWrapf(err, "Invalid digest for output file %#v", outputFile.Path)
		}
		if err := outputDirectoryBuilder.AddFile(ctx, outputFile.Path, fileDigest, outputFile.IsExecutable); err != nil {
			return nil, util.StatusWrapf(err, "Output file %#v", outputFile.Path)
		}
	}
	for _, outputSymlink := range actionResult.OutputSymlinks {
		if err := outputDirectoryBuilder.AddSymlink(ctx, outputSymlink.Path, outputSymlink.Target); err != nil {
			return nil, util.StatusWrapf(err, "Output symbolic link %#v", outputSymlink.Path)
		}
	}
	outputDirectoryDigest, err := outputDirectoryBuilder.Build(ctx)
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to construct output directory")
	}

	result := &process.Result{
		ExitCode:              actionResult.ExitCode,
		StdoutDigest:          stdoutDigest,
		StderrDigest:          stderrDigest,
		OutputDirectoryDigest: outputDirectoryDigest,
		Platform:              cr.platform,
		Metadata: process.ResultMetadata{
			Source: process.ResultSourceHitRemotely,
		},
	}
	if executionMetadata := actionResult.ExecutionMetadata; executionMetadata != nil {
		if t := executionMetadata.ExecutionStartTimestamp; t != nil {
			result.Metadata.ExecutionStartTimestamp = t.AsTime()
		}
		if t := executionMetadata.ExecutionCompletedTimestamp; t != nil {
			result.Metadata.ExecutionCompletedTimestamp = t.AsTime()
		}
	}
	return result, nil
}
