// Package log is a small wrapper around the standard library logger that
// gives every subsystem a named logger.
//
// Each line carries a level and a prefix with the service name:
//
//	2025/01/02 15:04:05.000000 INFO [api>] listening on 127.0.0.1:8889
//
// Debug output is off by default. It can be enabled for everything with
// SetGlobalDebug or for a single service with EnableDebugFor:
//
//	log.EnableDebugFor("search")
//	log.ForService("search").Debugf("visible")
//	log.ForService("storage").Debugf("not visible")
//
// The package name collides with the standard library log package; alias one
// of them when both are needed.
//
// All functions are safe for concurrent use. Tests can capture output with
// SetOutput(&bytes.Buffer{}).
package log
