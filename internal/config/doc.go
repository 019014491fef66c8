// Package config loads the draftsync.json configuration file.
//
// The file is optional. A missing file yields the defaults, so a bare
// `draftsyncd serve` runs an in-memory server on the default address.
// Command-line flags override file values.
package config
