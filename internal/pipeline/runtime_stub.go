//go:build !govips || !cgo

package pipeline

import "github.com/sirupsen/logrus"

// Startup is a no-op without libvips; the pure Go codec needs no runtime.
func Startup(logrus.FieldLogger) error {
	return nil
}

func Shutdown() {}

func newCodec() (Codec, error) {
	return stdlibCodec{}, nil
}
