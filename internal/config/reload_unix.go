//go:build !windows

package config

import (
	"os"
	"syscall"
)

// reloadSignals trigger a reload of the config file.
var reloadSignals = []os.Signal{syscall.SIGHUP}
