// Package depbuild builds dependent repositories against a local host package.
package depbuild

// Version is overridden at build time with -ldflags.
var Version = "dev"
