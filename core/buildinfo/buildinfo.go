// Package buildinfo carries version stamps injected at link time:
//
//	go build -ldflags "-X github.com/m3rciful/flowbot/core/buildinfo.Version=v0.3.0 \
//	  -X github.com/m3rciful/flowbot/core/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

var (
	// Version is the release tag of the binary.
	Version = "dev"
	// Commit is the source revision the binary was built from.
	Commit = "local"
	// Date is the build timestamp in RFC3339.
	Date = ""
)
