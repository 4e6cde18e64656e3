// Package common holds identifiers shared across the aggledger binaries.
package common

// PackageName is the metrics namespace and the service name used in logs.
const PackageName = "aggledger"

// Version is set at build time via -ldflags.
var Version = "dev"
