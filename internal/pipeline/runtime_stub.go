//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newCodec() Codec {
	return pureGoCodec{}
}

func CodecName() string {
	return "purego"
}
