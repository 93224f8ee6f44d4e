package cas

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ParseRelativePath splits a slash separated path that is relative to
// the root of a directory hierarchy into its components. The empty
// path refers to the root directory itself.
func ParseRelativePath(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if strings.HasPrefix(path, "/") {
		return nil, status.Errorf(codes.InvalidArgument, "Path %#v is absolute, while a relative path was expected", path)
	}
	components := strings.Split(path, "/")
	for _, component := range components {
		switch component {
		case "", ".", "..":
			return nil, status.Errorf(codes.InvalidArgument, "Path %#v contains invalid component %#v", path, component)
		}
	}
	return components, nil
}

// ValidateFilename checks that a name of a directory entry consists of
// exactly one pathname component.
func ValidateFilename(name string) error {
	if components, err := ParseRelativePath(name); err != nil || len(components) != 1 {
		return status.Errorf(codes.InvalidArgument, "Invalid filename %#v", name)
	}
	return nil
}
