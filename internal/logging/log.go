// Package logging centralizes the elog.Get handles used by every package in
// this module so log paths stay consistent with the host application's
// logging tree.
package logging

import (
	elog "github.com/eluv-io/log-go"
)

// Get returns the logger for the given subsystem path, rooted under
// "satip/<name>" to match the host's convention of namespacing by module.
func Get(name string) *elog.Log {
	return elog.Get("satip/" + name)
}
