//go:build govips && cgo

package pipeline

import (
	"runtime"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// A full story canvas is roughly 33 MB of RGBA, so the operation cache is
// sized for a handful of them.
const vipsCacheMem = 256 << 20

// Startup initializes libvips once per process. Call Shutdown on exit.
func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			ConcurrencyLevel: runtime.GOMAXPROCS(0),
			MaxCacheFiles:    0,
			MaxCacheMem:      vipsCacheMem,
			MaxCacheSize:     16,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newCodec() Codec {
	return govipsCodec{}
}

func CodecName() string {
	return "govips"
}
