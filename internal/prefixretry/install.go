package prefixretry

import "github.com/dskow/prefix-fallback/internal/middleware"

// StageName is the chain entry name Register installs under.
const StageName = "prefix_retry"

// Register appends the retry stage to chain when cfg.Enabled is set and
// reports whether it did. It should run after every stage that must only see
// the original request once; stages that must see the rewritten path are
// appended after it, or placed with chain.InsertAfter(StageName, ...).
func Register(chain *middleware.Chain, cfg Config) bool {
	if !cfg.Enabled {
		return false
	}
	chain.Append(StageName, Wrap(cfg))
	return true
}
