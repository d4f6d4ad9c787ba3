package shared

// Set at build time:
//
//	go build -ldflags "-X github.com/Bldg-7/rider-agent-panel/internal/shared.Version=1.4.0 -X github.com/Bldg-7/rider-agent-panel/internal/shared.Branch=main"
var (
	Version = "0.0.0-dev"
	Branch  = "unknown"
)
