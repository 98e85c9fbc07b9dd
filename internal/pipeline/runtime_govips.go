//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/sirupsen/logrus"
)

var vipsRuntime struct {
	mu   sync.Mutex
	refs int
}

// Startup starts libvips on first use and routes its log output through
// logger. Calls nest; each must be paired with Shutdown.
func Startup(logger logrus.FieldLogger) error {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	vipsRuntime.refs++
	if vipsRuntime.refs > 1 {
		return nil
	}

	if logger != nil {
		vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
			entry := logger.WithField("vips_domain", domain)
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				entry.Error(msg)
			case vips.LogLevelWarning:
				entry.Warn(msg)
			default:
				entry.Debug(msg)
			}
		}, vips.LogLevelWarning)
	}

	vips.Startup(&vips.Config{
		MaxCacheFiles: 0,
		MaxCacheMem:   128 * 1024 * 1024,
		MaxCacheSize:  100,
	})
	return nil
}

func Shutdown() {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	if vipsRuntime.refs == 0 {
		return
	}
	vipsRuntime.refs--
	if vipsRuntime.refs == 0 {
		vips.Shutdown()
	}
}

func newCodec() (Codec, error) {
	return govipsCodec{}, nil
}
