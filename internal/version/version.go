// Package version holds the release version of the translator binaries.
package version

// Current is bumped on release; it carries no "v" prefix.
const Current = "0.1.0"
