// Package version holds the build version reported by the CLI, the API and the HTTP user agent.
package version

// Version is overridden at build time with -ldflags "-X mediaprobe/pkg/version.Version=...".
var Version = "v0.3.0"
