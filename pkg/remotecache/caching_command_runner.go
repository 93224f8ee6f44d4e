package remotecache

import (
	"context"
	"sync"

	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-remote-cache/pkg/process"
	"github.com/buildbarn/bb-storage/pkg/blobstore"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cachingCommandRunnerPrometheusMetrics sync.Once

	cachingCommandRunnerSpeculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "remote_cache",
			Name:      "caching_command_runner_speculations_total",
			Help:      "Number of times a remote action cache lookup was raced against local execution, by which of the two completed first.",
		},
		[]string{"first_completed"})
	cachingCommandRunnerSpeculationsCacheHit   = cachingCommandRunnerSpeculations.WithLabelValues("CacheHit")
	cachingCommandRunnerSpeculationsCacheMiss  = cachingCommandRunnerSpeculations.WithLabelValues("CacheMiss")
	cachingCommandRunnerSpeculationsCacheError = cachingCommandRunnerSpeculations.WithLabelValues("CacheError")
	cachingCommandRunnerSpeculationsLocal      = cachingCommandRunnerSpeculations.WithLabelValues("Local")
)

type cachingCommandRunner struct {
	base           process.CommandRunner
	store          cas.Store
	digestFunction digest.Function
	clock          clock.Clock
	errorLogger    util.ErrorLogger
	configuration  Configuration
	reader         cacheReader
	writer         cacheWriter
}

// NewCachingCommandRunner creates a decorator for CommandRunner that
// consults a remote action cache.
//
// As the latency of cache lookups and local execution are both hard to
// predict, the lookup is performed while the process already runs
// locally. If the lookup yields a hit before local execution
// completes, local execution is cancelled and the cached result is
// returned. Otherwise the result of local execution is returned. Local
// execution may be postponed by a configurable delay, so that
// processes whose results are cached are not run at all.
//
// Results of processes that ran locally and succeeded are written to
// the remote action cache in the background. These writes are spawned
// in backgroundGroup, so that they may outlive the call to Run().
//
// Failures to access the remote cache never cause Run() to fail. They
// are reported through the provided ErrorLogger.
func NewCachingCommandRunner(base process.CommandRunner, store cas.Store, actionCache blobstore.BlobAccess, digestFunction digest.Function, clock clock.Clock, backgroundGroup program.Group, errorLogger util.ErrorLogger, configuration *Configuration) process.CommandRunner {
	cachingCommandRunnerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(cachingCommandRunnerSpeculations)
		prometheus.MustRegister(cacheReaderLookups)
		prometheus.MustRegister(cacheReaderLookupDurationSeconds)
		prometheus.MustRegister(cacheWriterWrites)
	})

	return &cachingCommandRunner{
		base:           base,
		store:          store,
		digestFunction: digestFunction,
		clock:          clock,
		errorLogger:    errorLogger,
		configuration:  *configuration,
		reader: cacheReader{
			store:                   store,
			actionCache:             actionCache,
			clock:                   clock,
			eagerFetch:              configuration.EagerFetch,
			platform:                configuration.Platform,
			maximumMessageSizeBytes: configuration.MaximumMessageSizeBytes,
		},
		writer: cacheWriter{
			store:           store,
			actionCache:     actionCache,
			backgroundGroup: backgroundGroup,
			errorLogger:     errorLogger,
		},
	}
}

func (r *cachingCommandRunner) ExtractCompatibleRequest(request process.MultiPlatformProcess) (*process.Process, bool) {
	return r.base.ExtractCompatibleRequest(request)
}

func (r *cachingCommandRunner) Run(ctx context.Context, request process.MultiPlatformProcess) (*process.Result, error) {
	p, ok := r.base.ExtractCompatibleRequest(request)
	if !ok || p.DoNotCache {
		return r.base.Run(ctx, request)
	}

	action, command, err := process.NewAction(p, r.configuration.Platform, &r.configuration.Metadata, r.digestFunction)
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to create action")
	}
	actionDigest, err := process.StoreActionLocally(ctx, r.store, r.digestFunction, action, command)
	if err != nil {
		return nil, err
	}

	var result *process.Result
	if r.configuration.ReadEnabled {
		result, err = r.speculate(ctx, request, actionDigest)
	} else {
		result, err = r.base.Run(ctx, request)
	}
	if err != nil {
		return nil, err
	}

	if result.Metadata.Source == process.ResultSourceRanLocally && r.configuration.WriteEnabled && result.ExitCode == 0 {
		r.writer.writeAsync(actionDigest, command, result)
	}
	return result, nil
}

type runOutcome struct {
	result *process.Result
	err    error
}

// speculate runs a process locally, while concurrently looking up its
// result in the remote action cache. If the lookup yields a hit before
// local execution completes, local execution is cancelled. If local
// execution completes first, the lookup is abandoned. It is permitted
// to complete in the background, so that it may still populate the
// local tier of the Store.
func (r *cachingCommandRunner) speculate(ctx context.Context, request process.MultiPlatformProcess, actionDigest digest.Digest) (*process.Result, error) {
	// Both channels are buffered, so that the goroutine that loses
	// the race can terminate without anyone receiving its outcome.
	cacheOutcomes := make(chan runOutcome, 1)
	go func() {
		result, err := r.reader.read(ctx, actionDigest)
		cacheOutcomes <- runOutcome{result: result, err: err}
	}()

	localCtx, cancelLocal := context.WithCancel(ctx)
	defer cancelLocal()
	startLocal := make(chan struct{})
	localOutcomes := make(chan runOutcome, 1)
	go func() {
		if delay := r.configuration.SpeculationDelay; delay > 0 {
			timer, t := r.clock.NewTimer(delay)
			select {
			case <-t:
			case <-startLocal:
				timer.Stop()
			case <-localCtx.Done():
				timer.Stop()
				localOutcomes <- runOutcome{err: util.StatusFromContext(localCtx)}
				return
			}
		}
		result, err := r.base.Run(localCtx, request)
		localOutcomes <- runOutcome{result: result, err: err}
	}()

	select {
	case cacheOutcome := <-cacheOutcomes:
		if cacheOutcome.err != nil {
			cachingCommandRunnerSpeculationsCacheError.Inc()
			if ctx.Err() == nil {
				r.errorLogger.Log(util.StatusWrapf(cacheOutcome.err, "Failed to read action %#v from remote cache", actionDigest.String()))
			}
		} else if cacheOutcome.result != nil {
			cachingCommandRunnerSpeculationsCacheHit.Inc()
			return cacheOutcome.result, nil
		} else {
			cachingCommandRunnerSpeculationsCacheMiss.Inc()
		}
		close(startLocal)
		localOutcome := <-localOutcomes
		return localOutcome.result, localOutcome.err
	case localOutcome := <-localOutcomes:
		cachingCommandRunnerSpeculationsLocal.Inc()
		return localOutcome.result, localOutcome.err
	}
}
