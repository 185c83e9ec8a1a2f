package version

import (
	"runtime"
	"runtime/debug"
	"time"
)

// Set with -ldflags "-X github.com/MrSnakeDoc/pinbook/internal/version.Version=..." at build time.
var (
	Version   = "dev"                           // ex: v0.1.0
	Commit    = "none"                          // ex: abcd123
	BuildDate = time.Now().Format(time.RFC3339) // ex: 2025-08-11T18:42:00Z
	GoVersion = runtime.Version()               // go version
)

func init() {
	if Commit != "none" {
		return
	}
	// go build embeds VCS data when ldflags were not given
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			Commit = s.Value
			if len(Commit) > 7 {
				Commit = Commit[:7]
			}
		case "vcs.time":
			BuildDate = s.Value
		}
	}
}

// UserAgent is sent on every outbound HTTP request (Pinboard, Telegram, page titles).
func UserAgent() string {
	return "pinbook/" + Version + " (+https://github.com/MrSnakeDoc/pinbook)"
}
