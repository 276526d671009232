// Package version holds build-time version information for the mrag binary.
// The variables are set via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/manifesto-rag/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/manifesto-rag/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/manifesto-rag/internal/version.BuildDate=2025-01-01" ./cmd/mrag
//
// Without ldflags (e.g. `go run`) they keep the defaults below.
package version

// Version is the semantic version of the binary. "dev" for local builds.
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"
