// Package dmx holds the DMX512 universe buffer and the player that keeps
// retransmitting it to a serial transmitter.
package dmx

import (
	"errors"
	"fmt"
	"sync"
)

// UniverseSize is the number of channels in one DMX512 universe.
const UniverseSize = 512

// ErrOutOfRange is wrapped by every BoundsError.
var ErrOutOfRange = errors.New("write exceeds universe")

// Frame is a full copy of the universe, index i is DMX channel i+1.
type Frame [UniverseSize]byte

// Write is a pending write of consecutive channels starting at Offset.
type Write struct {
	Offset int
	Values []byte
}

// BoundsError reports a write that does not fit into the universe.
type BoundsError struct {
	Offset int
	Length int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("dmx: write of %d channel(s) at offset %d exceeds universe of %d channels",
		e.Length, e.Offset, UniverseSize)
}

func (e *BoundsError) Unwrap() error {
	return ErrOutOfRange
}

func (w Write) check() error {
	// Compared against the remaining room so huge offsets cannot overflow.
	if w.Offset < 0 || w.Offset > UniverseSize || len(w.Values) > UniverseSize-w.Offset {
		return &BoundsError{Offset: w.Offset, Length: len(w.Values)}
	}
	return nil
}

// Universe is the shared 512 channel buffer.
// Writers and the player's snapshot take the same mutex, held only for the copy.
type Universe struct {
	mu       sync.Mutex
	channels Frame
}

// NewUniverse returns an all-zero universe.
func NewUniverse() *Universe {
	return &Universe{}
}

// Set writes values into consecutive channels starting at offset.
// The buffer is left untouched when the write does not fit.
func (u *Universe) Set(offset int, values []byte) error {
	return u.Apply(Write{Offset: offset, Values: values})
}

// Apply applies all writes in one critical section.
// Every write is validated first, so either all of them land or none do.
func (u *Universe) Apply(writes ...Write) error {
	for _, w := range writes {
		if err := w.check(); err != nil {
			return err
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	for _, w := range writes {
		copy(u.channels[w.Offset:], w.Values)
	}
	return nil
}

// SetChannel sets a single 1-indexed DMX channel.
func (u *Universe) SetChannel(channel int, value byte) error {
	return u.Set(channel-1, []byte{value})
}

// Channel returns the value of a 1-indexed DMX channel.
func (u *Universe) Channel(channel int) (byte, error) {
	if channel < 1 || channel > UniverseSize {
		return 0, &BoundsError{Offset: channel - 1, Length: 1}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	return u.channels[channel-1], nil
}

// Snapshot returns a copy of the current universe.
func (u *Universe) Snapshot() Frame {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.channels
}
