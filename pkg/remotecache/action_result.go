package remotecache

import (
	"context"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-remote-cache/pkg/cas"
	"github.com/buildbarn/bb-remote-cache/pkg/process"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// NewActionResult converts the Result of a process that was run
// locally to an ActionResult message that may be stored in the remote
// action cache. Output files and directories declared by the Command
// are looked up in the process' output directory. Declared outputs
// that were not created by the process are omitted.
//
// In addition to the ActionResult, the set of digests of all blobs it
// references is returned. These blobs need to be present in remote
// storage before the ActionResult may be published. Tree messages for
// output directories are stored in the Store as part of this
// operation.
func NewActionResult(ctx context.Context, store cas.Store, command *remoteexecution.Command, result *process.Result) (*remoteexecution.ActionResult, digest.Set, error) {
	digestFunction := result.OutputDirectoryDigest.GetDigestFunction()
	actionResult := &remoteexecution.ActionResult{
		ExitCode:     result.ExitCode,
		StdoutDigest: result.StdoutDigest.GetProto(),
		StderrDigest: result.StderrDigest.GetProto(),
	}
	digests := digest.NewSetBuilder()
	digests.Add(result.StdoutDigest)
	digests.Add(result.StderrDigest)

	for _, outputPath := range command.OutputFiles {
		fileNode, err := cas.GetOutputFile(ctx, store, result.OutputDirectoryDigest, outputPath)
		if err != nil {
			return nil, digest.EmptySet, util.StatusWrapf(err, "Failed to look up output file %#v", outputPath)
		}
		if fileNode == nil {
			continue
		}
		fileDigest, err := digestFunction.NewDigestFromProto(fileNode.Digest)
		if err != nil {
			return nil, digest.EmptySet, util.StatusWrapf(err, "Failed to obtain digest for output file %#v", outputPath)
		}
		actionResult.OutputFiles = append(actionResult.OutputFiles, &remoteexecution.OutputFile{
			Path:         outputPath,
			Digest:       fileNode.Digest,
			IsExecutable: fileNode.IsExecutable,
		})
		digests.Add(fileDigest)
	}

	for _, outputPath := range command.OutputDirectories {
		tree, err := cas.NewTreeForOutputDirectory(ctx, store, result.OutputDirectoryDigest, outputPath)
		if err != nil {
			return nil, digest.EmptySet, util.StatusWrapf(err, "Failed to create tree for output directory %#v", outputPath)
		}
		if tree == nil {
			continue
		}
		treeDigest, err := store.PutMessage(ctx, digestFunction, tree)
		if err != nil {
			return nil, digest.EmptySet, util.StatusWrapf(err, "Failed to store tree for output directory %#v", outputPath)
		}
		treeContentsDigests, err := cas.GetTreeDigests(digestFunction, tree)
		if err != nil {
			return nil, digest.EmptySet, util.StatusWrapf(err, "Invalid tree for output directory %#v", outputPath)
		}
		actionResult.OutputDirectories = append(actionResult.OutputDirectories, &remoteexecution.OutputDirectory{
			Path:       outputPath,
			TreeDigest: treeDigest.GetProto(),
		})
		digests.Add(treeDigest)
		for _, treeContentsDigest := range treeContentsDigests.Items() {
			digests.Add(treeContentsDigest)
		}
	}

	metadata := &result.Metadata
	if !metadata.ExecutionStartTimestamp.IsZero() && !metadata.ExecutionCompletedTimestamp.IsZero() {
		actionResult.ExecutionMetadata = &remoteexecution.ExecutedActionMetadata{
			ExecutionStartTimestamp:     timestamppb.New(metadata.ExecutionStartTimestamp),
			ExecutionCompletedTimestamp: timestamppb.New(metadata.ExecutionCompletedTimestamp),
		}
	}
	return actionResult, digests.Build(), nil
}
