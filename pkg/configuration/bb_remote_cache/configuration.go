package configuration

import (
	"time"

	blobstore_pb "github.com/buildbarn/bb-storage/pkg/proto/configuration/blobstore"
	global_pb "github.com/buildbarn/bb-storage/pkg/proto/configuration/global"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ApplicationConfiguration of bb_remote_cache_run.
type ApplicationConfiguration struct {
	// Logging, tracing and other process wide options.
	Global *global_pb.Configuration
	// Remote Content Addressable Storage backing the action cache.
	// If unset, the Store only consists of a local tier, and
	// results cannot be written.
	ContentAddressableStorage *blobstore_pb.BlobAccessConfiguration
	// Storage backend of the remote action cache, typically a gRPC
	// endpoint. If unset, the remote cache is not consulted at all.
	ActionCache *blobstore_pb.BlobAccessConfiguration
	// Additional headers that are attached to all requests sent to
	// remote storage, such as credentials.
	Headers map[string][]string

	InstanceName                   string
	LocalCacheDirectoryPath        string
	BuildDirectoryPath             string
	MaximumMessageSizeBytes        int
	MaximumBlobSizeBytes           int
	MaximumMemoryCachedDirectories int
	// Number of blobs copied between the local and remote tier in
	// parallel.
	TransferConcurrency int64
	// Maximum number of concurrent requests against remote storage.
	RemoteConcurrency int64

	ReadEnabled      bool
	WriteEnabled     bool
	EagerFetch       bool
	SpeculationDelay time.Duration
	Warnings         string

	CacheKeyGenerationVersion string
	PlatformProperties        map[string]string
}

// GetApplicationConfiguration reads the configuration from file and
// fills in default values.
func GetApplicationConfiguration(path string) (*ApplicationConfiguration, error) {
	var message structpb.Struct
	if err := util.UnmarshalConfigurationFromFile(path, &message); err != nil {
		return nil, util.StatusWrap(err, "Failed to retrieve configuration")
	}
	configuration, err := NewApplicationConfigurationFromStruct(&message)
	if err != nil {
		return nil, util.StatusWrapf(err, "Invalid configuration in %#v", path)
	}
	return configuration, nil
}

// NewApplicationConfigurationFromStruct converts the JSON object that
// is obtained by evaluating a configuration file to an
// ApplicationConfiguration. Unknown fields are rejected, so that typos
// don't go unnoticed.
func NewApplicationConfigurationFromStruct(message *structpb.Struct) (*ApplicationConfiguration, error) {
	d := decoder{fields: message.GetFields()}
	configuration := ApplicationConfiguration{
		Global:                    &global_pb.Configuration{},
		InstanceName:              d.getString("instanceName"),
		LocalCacheDirectoryPath:   d.getString("localCacheDirectoryPath"),
		BuildDirectoryPath:        d.getString("buildDirectoryPath"),
		ReadEnabled:               d.getBool("readEnabled", true),
		WriteEnabled:              d.getBool("writeEnabled", true),
		EagerFetch:                d.getBool("eagerFetch", false),
		Warnings:                  d.getString("warnings"),
		CacheKeyGenerationVersion: d.getString("cacheKeyGenerationVersion"),
	}
	configuration.MaximumMessageSizeBytes = int(d.getInteger("maximumMessageSizeBytes"))
	configuration.MaximumBlobSizeBytes = int(d.getInteger("maximumBlobSizeBytes"))
	configuration.MaximumMemoryCachedDirectories = int(d.getInteger("maximumMemoryCachedDirectories"))
	configuration.TransferConcurrency = int64(d.getInteger("transferConcurrency"))
	configuration.RemoteConcurrency = int64(d.getInteger("remoteConcurrency"))
	configuration.PlatformProperties = d.getStringMap("platformProperties")
	configuration.Headers = d.getHeaders("headers")

	var speculationDelay durationpb.Duration
	if d.getMessage("speculationDelay", &speculationDelay) {
		configuration.SpeculationDelay = speculationDelay.AsDuration()
	}
	d.getMessage("global", configuration.Global)
	var contentAddressableStorage blobstore_pb.BlobAccessConfiguration
	if d.getMessage("contentAddressableStorage", &contentAddressableStorage) {
		configuration.ContentAddressableStorage = &contentAddressableStorage
	}
	var actionCache blobstore_pb.BlobAccessConfiguration
	if d.getMessage("actionCache", &actionCache) {
		configuration.ActionCache = &actionCache
	}

	if err := d.finish(); err != nil {
		return nil, err
	}
	setDefaultApplicationValues(&configuration)
	return &configuration, nil
}

func setDefaultApplicationValues(configuration *ApplicationConfiguration) {
	if configuration.LocalCacheDirectoryPath == "" {
		configuration.LocalCacheDirectoryPath = "/tmp/bb_remote_cache/cache"
	}
	if configuration.BuildDirectoryPath == "" {
		configuration.BuildDirectoryPath = "/tmp/bb_remote_cache/build"
	}
	if configuration.MaximumMessageSizeBytes == 0 {
		configuration.MaximumMessageSizeBytes = 16 * 1024 * 1024
	}
	if configuration.MaximumBlobSizeBytes == 0 {
		configuration.MaximumBlobSizeBytes = 1024 * 1024 * 1024
	}
	if configuration.MaximumMemoryCachedDirectories == 0 {
		configuration.MaximumMemoryCachedDirectories = 1000
	}
	if configuration.TransferConcurrency == 0 {
		configuration.TransferConcurrency = 16
	}
	if configuration.RemoteConcurrency == 0 {
		configuration.RemoteConcurrency = 100
	}
}

// decoder extracts typed values from the fields of a JSON object. The
// first error encountered is retained, while fields that have been
// consumed are tracked to detect unknown fields.
type decoder struct {
	fields   map[string]*structpb.Value
	consumed map[string]struct{}
	err      error
}

func (d *decoder) get(name string) (*structpb.Value, bool) {
	if d.consumed == nil {
		d.consumed = map[string]struct{}{}
	}
	d.consumed[name] = struct{}{}
	v, ok := d.fields[name]
	if !ok || d.err != nil {
		return nil, false
	}
	if _, ok := v.Kind.(*structpb.Value_NullValue); ok {
		return nil, false
	}
	return v, true
}

func (d *decoder) fail(name, expectedType string) {
	d.err = status.Errorf(codes.InvalidArgument, "Field %#v must be of type %s", name, expectedType)
}

func (d *decoder) getString(name string) string {
	v, ok := d.get(name)
	if !ok {
		return ""
	}
	s, ok := v.Kind.(*structpb.Value_StringValue)
	if !ok {
		d.fail(name, "string")
		return ""
	}
	return s.StringValue
}

func (d *decoder) getBool(name string, defaultValue bool) bool {
	v, ok := d.get(name)
	if !ok {
		return defaultValue
	}
	b, ok := v.Kind.(*structpb.Value_BoolValue)
	if !ok {
		d.fail(name, "boolean")
		return defaultValue
	}
	return b.BoolValue
}

func (d *decoder) getInteger(name string) float64 {
	v, ok := d.get(name)
	if !ok {
		return 0
	}
	n, ok := v.Kind.(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 0 || n.NumberValue != float64(int64(n.NumberValue)) {
		d.fail(name, "non-negative integer")
		return 0
	}
	return n.NumberValue
}

func (d *decoder) getStringMap(name string) map[string]string {
	v, ok := d.get(name)
	if !ok {
		return nil
	}
	s, ok := v.Kind.(*structpb.Value_StructValue)
	if !ok {
		d.fail(name, "object of strings")
		return nil
	}
	m := make(map[string]string, len(s.StructValue.Fields))
	for key, value := range s.StructValue.Fields {
		stringValue, ok := value.Kind.(*structpb.Value_StringValue)
		if !ok {
			d.fail(name, "object of strings")
			return nil
		}
		m[key] = stringValue.StringValue
	}
	return m
}

// getHeaders decodes an object whose values are either strings or lists
// of strings.
func (d *decoder) getHeaders(name string) map[string][]string {
	v, ok := d.get(name)
	if !ok {
		return nil
	}
	s, ok := v.Kind.(*structpb.Value_StructValue)
	if !ok {
		d.fail(name, "object of strings")
		return nil
	}
	m := make(map[string][]string, len(s.StructValue.Fields))
	for key, value := range s.StructValue.Fields {
		switch kind := value.Kind.(type) {
		case *structpb.Value_StringValue:
			m[key] = []string{kind.StringValue}
		case *structpb.Value_ListValue:
			for _, element := range kind.ListValue.Values {
				stringValue, ok := element.Kind.(*structpb.Value_StringValue)
				if !ok {
					d.fail(name, "object of strings")
					return nil
				}
				m[key] = append(m[key], stringValue.StringValue)
			}
		default:
			d.fail(name, "object of strings")
			return nil
		}
	}
	return m
}

// getMessage decodes a field containing a Protobuf message that uses the
// canonical JSON encoding.
func (d *decoder) getMessage(name string, m proto.Message) bool {
	v, ok := d.get(name)
	if !ok {
		return false
	}
	data, err := protojson.Marshal(v)
	if err != nil {
		d.err = util.StatusWrapfWithCode(err, codes.InvalidArgument, "Failed to marshal field %#v", name)
		return false
	}
	if err := protojson.Unmarshal(data, m); err != nil {
		d.err = util.StatusWrapfWithCode(err, codes.InvalidArgument, "Failed to unmarshal field %#v", name)
		return false
	}
	return true
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	for name := range d.fields {
		if _, ok := d.consumed[name]; !ok {
			return status.Errorf(codes.InvalidArgument, "Unknown field %#v", name)
		}
	}
	return nil
}
