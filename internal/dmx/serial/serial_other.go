//go:build !linux

package serial

// Port is unavailable outside linux.
type Port struct{}

// Open always fails on this platform.
func Open(device string) (*Port, error) {
	return nil, ErrUnsupportedPlatform
}

func (p *Port) Transmit(frame []byte) error { return ErrUnsupportedPlatform }

func (p *Port) Close() error { return nil }
