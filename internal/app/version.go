package app

// Build-time variables set via -ldflags. For example:
//
//	go build -ldflags "-X github.com/large-farva/rotortrack/internal/app.Version=v0.3.0 -X github.com/large-farva/rotortrack/internal/app.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = "unknown"
	BuiltAt = "unknown"
)
