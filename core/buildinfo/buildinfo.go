// Package buildinfo carries release metadata stamped by the linker:
//
//	go build -ldflags "-X github.com/m3rciful/onboardbot/core/buildinfo.Version=v0.4.0 \
//	  -X github.com/m3rciful/onboardbot/core/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import "fmt"

// Name is the service name reported in startup logs.
const Name = "onboardbot"

var (
	Version = "dev"
	Commit  = "local"
	// Date is an RFC3339 build timestamp, empty for local builds.
	Date = ""
)

// String renders "onboardbot v0.4.0 (abc1234)" for banners and the /help footer.
func String() string {
	return fmt.Sprintf("%s %s (%s)", Name, Version, Commit)
}
