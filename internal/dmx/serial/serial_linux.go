//go:build linux

package serial

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Port is an open UART configured for DMX512.
type Port struct {
	mu     sync.Mutex
	file   *os.File
	fd     int
	buf    []byte
	closed bool
}

// Open opens device and configures it for 250k baud 8N2.
func Open(device string) (*Port, error) {
	file, err := os.OpenFile(device, unix.O_RDWR|unix.O_NOCTTY, 0600)
	if err != nil {
		return nil, err
	}

	p := &Port{
		file: file,
		fd:   int(file.Fd()),
		buf:  make([]byte, 1+MaxSlots),
	}

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS2, dmxTermios()); err != nil {
		file.Close()
		return nil, fmt.Errorf("configure %s: %w", device, err)
	}

	return p, nil
}

func dmxTermios() *unix.Termios {
	t := &unix.Termios{}
	// Custom speed through BOTHER, two stop bits, no parity.
	t.Cflag = unix.CSTOPB | unix.CS8 | unix.CLOCAL | unix.CREAD | unix.BOTHER
	t.Ispeed = BaudRate
	t.Ospeed = BaudRate
	t.Cc[unix.VTIME] = 1
	t.Cc[unix.VMIN] = 0
	return t
}

// Transmit sends break, mark-after-break, the start code and frame.
func (p *Port) Transmit(frame []byte) error {
	if len(frame) > MaxSlots {
		return ErrFrameTooLong
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	packet := p.buf[:1+len(frame)]
	packet[0] = StartCode
	copy(packet[1:], frame)

	if err := p.setBreak(true); err != nil {
		return fmt.Errorf("start break: %w", err)
	}
	time.Sleep(BreakTime)

	if err := p.setBreak(false); err != nil {
		return fmt.Errorf("end break: %w", err)
	}
	time.Sleep(MarkAfterBreak)

	n, err := p.file.Write(packet)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, len(packet), ErrShortWrite)
	}

	if err := p.drain(); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

func (p *Port) setBreak(on bool) error {
	req := uint(unix.TIOCCBRK)
	if on {
		req = unix.TIOCSBRK
	}
	return retryEINTR(func() error { return unix.IoctlSetInt(p.fd, req, 0) })
}

// drain waits until the output queue is empty (tcdrain).
func (p *Port) drain() error {
	return retryEINTR(func() error { return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1) })
}

func retryEINTR(fn func() error) error {
	for {
		err := fn()
		if err != unix.EINTR {
			return err
		}
	}
}

// Close releases the device.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.file.Close()
}
