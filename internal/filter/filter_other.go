//go:build !linux

package filter

import "go.uber.org/zap"

// New returns a no-op hook; kernel blocking is only implemented on linux.
func New(log *zap.SugaredLogger) Hook {
	if log != nil {
		log.Infow("kernel blocking not supported on this platform")
	}
	return Noop{}
}
