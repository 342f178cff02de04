// Package version provides build-time version information for cg.
// Version, Commit, and BuildTime are populated via ldflags during the build process.
// For development builds, default values are used.
package version

// Build information variables, set via ldflags at build time:
//
//	go build -ldflags "-X github.com/ctxguard/cg/internal/version.Version=0.3.0 \
//	                   -X github.com/ctxguard/cg/internal/version.Commit=abc123 \
//	                   -X github.com/ctxguard/cg/internal/version.BuildTime=2026-10-01T12:00:00Z" ./cmd/cg
var (
	// Version is the semantic version of cg (e.g., "0.3.0", "dev").
	Version = "dev"

	// Commit is the git commit hash from which the binary was built.
	Commit = "unknown"

	// BuildTime is the timestamp when the binary was built (RFC3339 format).
	BuildTime = "unknown"
)

// Info returns a formatted string with all version information.
func Info() string {
	return "cg " + Version + " (commit: " + Commit + ", built: " + BuildTime + ")"
}
