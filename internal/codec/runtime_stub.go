//go:build !govips || !cgo

package codec

// Backend names the encoder implementation compiled in.
const Backend = "native"

func Startup() error {
	return nil
}

func Shutdown() {}
