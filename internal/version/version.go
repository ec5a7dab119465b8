// Package version formats the CLI version line from -ldflags values with a
// build-info fallback.
package version

import (
	"runtime/debug"
	"strings"
)

// String prefers ldflags-injected version/commit values and falls back to
// module build info when they are unset placeholders.
func String(version, commit string) string {
	v := strings.TrimSpace(version)
	c := strings.TrimSpace(commit)

	if info, ok := debug.ReadBuildInfo(); ok {
		if v == "" || v == "dev" || v == "(devel)" {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
		if c == "" || c == "unknown" {
			if rev := buildSetting(info, "vcs.revision"); rev != "" {
				c = rev
			}
		}
	}

	out := v
	if out == "" {
		out = "dev"
	}
	if c != "" && c != "unknown" {
		if len(c) > 12 {
			c = c[:12]
		}
		out += " (" + c + ")"
	}
	return out
}

func buildSetting(info *debug.BuildInfo, key string) string {
	if info == nil {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
