package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	re_blobstore "github.com/buildbarn/bb-remote-cache/pkg/blobstore"
	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	configuration "github.com/buildbarn/bb-remote-cache/pkg/configuration/bb_remote_cache"
	"github.com/buildbarn/bb-remote-cache/pkg/process"
	"github.com/buildbarn/bb-remote-cache/pkg/remotecache"
	"github.com/buildbarn/bb-storage/pkg/blobstore"
	blobstore_configuration "github.com/buildbarn/bb-storage/pkg/blobstore/configuration"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/global"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"golang.org/x/sync/semaphore"
)

const usage = "Usage: bb_remote_cache_run [flags] bb_remote_cache.jsonnet -- command [argument ...]"

func main() {
	flags := pflag.NewFlagSet("bb_remote_cache_run", pflag.ExitOnError)
	outputFiles := flags.StringArray("output-file", nil, "Path of an output file, relative to the working directory")
	outputDirectories := flags.StringArray("output-directory", nil, "Path of an output directory, relative to the working directory")
	environmentVariables := flags.StringToString("env", nil, "Environment variable to set for the command")
	workingDirectory := flags.String("working-directory", "", "Working directory of the command, relative to the input root")
	inputRootPath := flags.String("input-root", "", "Local directory that is uploaded and used as the input root")
	timeout := flags.Duration("timeout", 0, "Maximum amount of time the command may run")
	description := flags.String("description", "", "Human readable description of the command, used for logging")
	doNotCache := flags.Bool("do-not-cache", false, "Never read or write results of this command from or to the remote cache")
	materializeOutputsPath := flags.String("materialize-outputs", "", "Local directory into which outputs are written")
	flags.Usage = func() {
		log.Print(usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
	if flags.NArg() < 2 || flags.ArgsLenAtDash() != 1 {
		flags.Usage()
		os.Exit(2)
	}
	configurationPath, arguments := flags.Arg(0), flags.Args()[1:]

	applicationConfiguration, err := configuration.GetApplicationConfiguration(configurationPath)
	if err != nil {
		log.Fatalf("Failed to read configuration from %s: %s", configurationPath, err)
	}
	if *description == "" {
		*description = strings.Join(arguments, " ")
	}

	// Run the command in a local group, as opposed to using
	// program.RunMain(). This allows the exit code of the command
	// to be propagated, but only after all writes to the remote
	// cache have completed.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var exitCode int32
	if err := program.RunLocal(ctx, func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		_, grpcClientFactory, err := global.ApplyConfiguration(applicationConfiguration.Global, dependenciesGroup)
		if err != nil {
			return util.StatusWrap(err, "Failed to apply global configuration options")
		}

		instanceName, err := digest.NewInstanceName(applicationConfiguration.InstanceName)
		if err != nil {
			return util.StatusWrapf(err, "Invalid instance name %#v", applicationConfiguration.InstanceName)
		}
		digestFunction, err := instanceName.GetDigestFunction(remoteexecution.DigestFunction_SHA256, 0)
		if err != nil {
			return util.StatusWrap(err, "Failed to obtain digest function")
		}

		// All requests against remote storage share a single
		// tool invocation ID, and are subject to a common
		// concurrency limit.
		requestMetadata := &remoteexecution.RequestMetadata{
			ToolDetails: &remoteexecution.ToolDetails{
				ToolName: "bb_remote_cache_run",
			},
			ToolInvocationId: uuid.Must(uuid.NewRandom()).String(),
		}
		remoteSemaphore := semaphore.NewWeighted(applicationConfiguration.RemoteConcurrency)
		decorateRemote := func(blobAccess blobstore.BlobAccess) blobstore.BlobAccess {
			return re_blobstore.NewConcurrencyLimitingBlobAccess(
				re_blobstore.NewRequestMetadataBlobAccess(blobAccess, applicationConfiguration.Headers, requestMetadata),
				remoteSemaphore)
		}

		var remoteContentAddressableStorageInfo blobstore_configuration.BlobAccessInfo
		var remoteContentAddressableStorage blobstore.BlobAccess
		if applicationConfiguration.ContentAddressableStorage != nil {
			remoteContentAddressableStorageInfo, err = blobstore_configuration.NewBlobAccessFromConfiguration(
				dependenciesGroup,
				applicationConfiguration.ContentAddressableStorage,
				blobstore_configuration.NewCASBlobAccessCreator(grpcClientFactory, applicationConfiguration.MaximumMessageSizeBytes))
			if err != nil {
				return util.StatusWrap(err, "Failed to create Content Addressable Storage")
			}
			remoteContentAddressableStorage = decorateRemote(remoteContentAddressableStorageInfo.BlobAccess)
		}

		localContentAddressableStorage, err := re_blobstore.NewDiskBlobAccess(applicationConfiguration.LocalCacheDirectoryPath, applicationConfiguration.MaximumBlobSizeBytes)
		if err != nil {
			return util.StatusWrap(err, "Failed to open local cache directory")
		}
		store := cas.NewTieredStore(
			localContentAddressableStorage,
			remoteContentAddressableStorage,
			applicationConfiguration.MaximumMessageSizeBytes,
			applicationConfiguration.MaximumBlobSizeBytes,
			applicationConfiguration.MaximumMemoryCachedDirectories,
			applicationConfiguration.TransferConcurrency)

		cacheConfiguration := remotecache.Configuration{
			ReadEnabled:      applicationConfiguration.ReadEnabled,
			WriteEnabled:     applicationConfiguration.WriteEnabled,
			EagerFetch:       applicationConfiguration.EagerFetch,
			SpeculationDelay: applicationConfiguration.SpeculationDelay,
			Platform:         process.CurrentPlatform(),
			Metadata: process.ProcessMetadata{
				CacheKeyGenerationVersion: applicationConfiguration.CacheKeyGenerationVersion,
				PlatformProperties:        applicationConfiguration.PlatformProperties,
			},
			MaximumMessageSizeBytes: applicationConfiguration.MaximumMessageSizeBytes,
		}
		var actionCache blobstore.BlobAccess
		if applicationConfiguration.ActionCache != nil {
			info, err := blobstore_configuration.NewBlobAccessFromConfiguration(
				dependenciesGroup,
				applicationConfiguration.ActionCache,
				blobstore_configuration.NewACBlobAccessCreator(
					&remoteContentAddressableStorageInfo,
					grpcClientFactory,
					applicationConfiguration.MaximumMessageSizeBytes))
			if err != nil {
				return util.StatusWrap(err, "Failed to create Action Cache")
			}
			actionCache = decorateRemote(info.BlobAccess)
		} else {
			cacheConfiguration.ReadEnabled = false
			cacheConfiguration.WriteEnabled = false
		}
		if !store.HasRemote() {
			// Results can only be published if their outputs
			// can be uploaded.
			cacheConfiguration.WriteEnabled = false
		}

		warningsBehavior, err := remotecache.NewWarningsBehaviorFromString(applicationConfiguration.Warnings)
		if err != nil {
			return err
		}
		errorLogger := remotecache.NewWarningsErrorLogger(util.DefaultErrorLogger, warningsBehavior)

		if err := os.MkdirAll(applicationConfiguration.BuildDirectoryPath, 0o777); err != nil {
			return util.StatusWrap(err, "Failed to create build directory")
		}
		commandRunner := process.NewTracingCommandRunner(
			process.NewLoggingCommandRunner(
				remotecache.NewCachingCommandRunner(
					process.NewLocalCommandRunner(store, digestFunction, applicationConfiguration.BuildDirectoryPath, clock.SystemClock),
					store,
					actionCache,
					digestFunction,
					clock.SystemClock,
					siblingsGroup,
					errorLogger,
					&cacheConfiguration)),
			otel.GetTracerProvider())

		// Construct the input root.
		inputRootBuilder := cas.NewDirectoryBuilder(store, digestFunction)
		if *inputRootPath != "" {
			absoluteInputRootPath, err := filepath.Abs(*inputRootPath)
			if err != nil {
				return util.StatusWrapf(err, "Invalid input root %#v", *inputRootPath)
			}
			if err := inputRootBuilder.AddLocalPath(ctx, "", absoluteInputRootPath); err != nil {
				return util.StatusWrap(err, "Failed to upload input root")
			}
		}
		inputRootDigest, err := inputRootBuilder.Build(ctx)
		if err != nil {
			return util.StatusWrap(err, "Failed to store input root")
		}

		result, err := commandRunner.Run(ctx, process.NewSinglePlatformProcess(&process.Process{
			Arguments:            arguments,
			EnvironmentVariables: *environmentVariables,
			WorkingDirectory:     *workingDirectory,
			InputRootDigest:      inputRootDigest,
			OutputFiles:          *outputFiles,
			OutputDirectories:    *outputDirectories,
			Timeout:              *timeout,
			Description:          *description,
			DoNotCache:           *doNotCache,
		}))
		if err != nil {
			return err
		}

		stdout, err := store.GetBlob(ctx, result.StdoutDigest)
		if err != nil {
			return util.StatusWrap(err, "Failed to load stdout")
		}
		os.Stdout.Write(stdout)
		stderr, err := store.GetBlob(ctx, result.StderrDigest)
		if err != nil {
			return util.StatusWrap(err, "Failed to load stderr")
		}
		os.Stderr.Write(stderr)

		if *materializeOutputsPath != "" {
			if err := cas.MaterializeDirectory(ctx, store, result.OutputDirectoryDigest, *materializeOutputsPath); err != nil {
				return util.StatusWrap(err, "Failed to materialize outputs")
			}
		}
		exitCode = result.ExitCode
		return nil
	}); err != nil {
		log.Fatal("Fatal error: ", err)
	}
	cancel()
	os.Exit(int(exitCode))
}
