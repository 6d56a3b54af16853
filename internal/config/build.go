package config

import "runtime/debug"

// Release metadata set with -ldflags, for example:
//
//	go build -ldflags "-X medinotify/internal/config.version=1.2.3" ./cmd/notification-service
//
// Unset values fall back to the VCS stamp the Go toolchain embeds.
var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

// NewBuildInfo reports the running binary's version, commit and build time.
func NewBuildInfo() BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
	if info.Commit != "" && info.BuildTime != "" {
		return info
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" && len(s.Value) >= 12 {
					info.Commit = s.Value[:12]
				} else if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "none"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	return info
}
