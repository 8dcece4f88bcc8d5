// Package version exposes the build version string.
package version

// Version is the release identifier baked into logs and the User-Agent.
const Version = "1.0.0"
