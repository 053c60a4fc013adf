// Package serial drives a UART as a DMX512 transmitter.
package serial

import (
	"errors"
	"time"
)

const (
	// BaudRate is the DMX512 line rate (8N2).
	BaudRate = 250000
	// StartCode precedes the slots of a dimmer data packet.
	StartCode = 0x00
	// MaxSlots is the number of data slots in one packet.
	MaxSlots = 512

	// BreakTime and MarkAfterBreak exceed the 88us / 8us minimums of DMX512.
	BreakTime      = 110 * time.Microsecond
	MarkAfterBreak = 20 * time.Microsecond
)

var (
	ErrUnsupportedPlatform = errors.New("serial: DMX output is only supported on linux")
	ErrShortWrite          = errors.New("serial: short write")
	ErrFrameTooLong        = errors.New("serial: frame exceeds 512 slots")
	ErrClosed              = errors.New("serial: port closed")
)
