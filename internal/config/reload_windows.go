//go:build windows

package config

import "os"

// Windows has no SIGHUP; the file watcher is the only reload trigger.
var reloadSignals []os.Signal
