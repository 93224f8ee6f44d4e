package process

import (
	"runtime"
)

// Platform of the system on which processes are executed.
type Platform string

// Platforms on which processes are commonly executed.
const (
	PlatformLinuxX86_64 Platform = "linux_x86_64"
	PlatformLinuxArm64  Platform = "linux_arm64"
	PlatformMacOSX86_64 Platform = "macos_x86_64"
	PlatformMacOSArm64  Platform = "macos_arm64"
)

// CurrentPlatform returns the platform of the system on which this
// process is running.
func CurrentPlatform() Platform {
	goos := runtime.GOOS
	if goos == "darwin" {
		goos = "macos"
	}
	goarch := runtime.GOARCH
	if goarch == "amd64" {
		goarch = "x86_64"
	}
	return Platform(goos + "_" + goarch)
}
