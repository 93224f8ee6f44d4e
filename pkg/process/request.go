package process

import (
	"context"
	"sort"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

const (
	// CacheKeyGenerationVersionEnvironmentVariable is the name of
	// the environment variable that is added to the Command message
	// to incorporate ProcessMetadata.CacheKeyGenerationVersion into
	// the cache key.
	CacheKeyGenerationVersionEnvironmentVariable = "BB_REMOTE_CACHE_KEY_GENERATION_VERSION"
	// PlatformPropertyName is the name of the platform property
	// that holds the platform on which a process was run.
	PlatformPropertyName = "platform"
)

func sortedCopy(s []string) []string {
	sorted := append([]string(nil), s...)
	sort.Strings(sorted)
	return sorted
}

// NewAction creates the Action and Command messages that describe a
// process in terms of the Remote Execution API. All repeated fields
// are sorted, so that the digest of the Action can be used as a stable
// key under which the results of the process are cached.
func NewAction(process *Process, platform Platform, metadata *ProcessMetadata, digestFunction digest.Function) (*remoteexecution.Action, *remoteexecution.Command, error) {
	if len(process.Arguments) < 1 {
		return nil, nil, status.Error(codes.InvalidArgument, "Insufficient number of command arguments")
	}

	environmentVariables := make(map[string]string, len(process.EnvironmentVariables)+1)
	for name, value := range process.EnvironmentVariables {
		environmentVariables[name] = value
	}
	if metadata.CacheKeyGenerationVersion != "" {
		environmentVariables[CacheKeyGenerationVersionEnvironmentVariable] = metadata.CacheKeyGenerationVersion
	}
	platformProperties := make(map[string]string, len(metadata.PlatformProperties)+1)
	for name, value := range metadata.PlatformProperties {
		platformProperties[name] = value
	}
	platformProperties[PlatformPropertyName] = string(platform)

	command := &remoteexecution.Command{
		Arguments:         process.Arguments,
		WorkingDirectory:  process.WorkingDirectory,
		OutputFiles:       sortedCopy(process.OutputFiles),
		OutputDirectories: sortedCopy(process.OutputDirectories),
		Platform:          &remoteexecution.Platform{},
	}
	for _, name := range sortedKeys(environmentVariables) {
		command.EnvironmentVariables = append(command.EnvironmentVariables, &remoteexecution.Command_EnvironmentVariable{
			Name:  name,
			Value: environmentVariables[name],
		})
	}
	for _, name := range sortedKeys(platformProperties) {
		command.Platform.Properties = append(command.Platform.Properties, &remoteexecution.Platform_Property{
			Name:  name,
			Value: platformProperties[name],
		})
	}

	commandData, err := cas.MarshalMessage(command)
	if err != nil {
		return nil, nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to marshal command")
	}
	commandDigest, err := cas.ComputeDigest(digestFunction, commandData)
	if err != nil {
		return nil, nil, util.StatusWrap(err, "Failed to compute command digest")
	}

	action := &remoteexecution.Action{
		CommandDigest:   commandDigest.GetProto(),
		InputRootDigest: process.InputRootDigest.GetProto(),
		DoNotCache:      process.DoNotCache,
	}
	if process.Timeout > 0 {
		action.Timeout = durationpb.New(process.Timeout)
	}
	return action, command, nil
}

// StoreActionLocally records an Action and its Command in the Store,
// returning the digest of the Action. Storing both is a prerequisite
// for publishing results of the Action in the remote cache.
func StoreActionLocally(ctx context.Context, store cas.Store, digestFunction digest.Function, action *remoteexecution.Action, command *remoteexecution.Command) (digest.Digest, error) {
	if _, err := store.PutMessage(ctx, digestFunction, command); err != nil {
		return digest.BadDigest, util.StatusWrap(err, "Failed to store command")
	}
	actionDigest, err := store.PutMessage(ctx, digestFunction, action)
	if err != nil {
		return digest.BadDigest, util.StatusWrap(err, "Failed to store action")
	}
	return actionDigest, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
