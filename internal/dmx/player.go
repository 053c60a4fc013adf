package dmx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/dmx-adapter/internal/dmx/serial"
)

// DefaultInterval is the refresh interval of the transmission loop (~20 Hz).
const DefaultInterval = 50 * time.Millisecond

var (
	// ErrAlreadyStarted is returned by Start on a player that was started before.
	ErrAlreadyStarted = errors.New("dmx: player already started")
	// ErrStopped is returned by Start when Stop was called while the port was opening.
	ErrStopped = errors.New("dmx: player stopped during start")
)

// Transmitter sends one complete frame per call.
type Transmitter interface {
	Transmit(frame []byte) error
	Close() error
}

// Opener opens the transmitter for a serial port identifier.
type Opener func(port string) (Transmitter, error)

// ConnectionError is returned by Start when the transmitter cannot be opened.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("dmx: could not open serial port %q: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// State is the lifecycle state of a Player.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats are counters of the transmission loop.
type Stats struct {
	State        string    `json:"state"`
	Port         string    `json:"port,omitempty"`
	FramesSent   uint64    `json:"frames_sent"`
	FramesFailed uint64    `json:"frames_failed"`
	LastFrame    time.Time `json:"last_frame,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
}

// Option configures a Player.
type Option func(*Player)

// WithInterval overrides the refresh interval.
func WithInterval(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithOpener overrides how the transmitter is opened.
func WithOpener(open Opener) Option {
	return func(p *Player) {
		if open != nil {
			p.open = open
		}
	}
}

// Player retransmits the universe to a transmitter at a fixed cadence.
type Player struct {
	universe *Universe
	open     Opener
	interval time.Duration

	mu     sync.Mutex
	state  State
	port   string
	cancel context.CancelFunc
	done   chan struct{}

	sent      atomic.Uint64
	failed    atomic.Uint64
	lastFrame atomic.Int64
	lastErr   atomic.Value // string

	errLog *rate.Limiter
}

// NewPlayer creates a player for the given universe. A nil universe gets a fresh one.
func NewPlayer(universe *Universe, opts ...Option) *Player {
	if universe == nil {
		universe = NewUniverse()
	}

	p := &Player{
		universe: universe,
		open:     openSerial,
		interval: DefaultInterval,
		// First error is always logged, then one per 5s.
		errLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func openSerial(port string) (Transmitter, error) {
	p, err := serial.Open(port)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Universe returns the buffer the player transmits.
func (p *Player) Universe() *Universe {
	return p.universe
}

// Set writes consecutive channels starting at offset.
func (p *Player) Set(offset int, values []byte) error {
	return p.universe.Set(offset, values)
}

// Apply applies writes atomically.
func (p *Player) Apply(writes ...Write) error {
	return p.universe.Apply(writes...)
}

// State returns the current lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start opens the transmitter and spawns the transmission loop.
// It returns once the port is open; the loop runs until ctx is cancelled or Stop is called.
// The port is opened without holding the lock, so State and Stats stay responsive.
// A failed open leaves the player startable again.
func (p *Player) Start(ctx context.Context, port string) error {
	p.mu.Lock()
	if p.state != StateNotStarted {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.state = StateStarting
	p.port = port
	p.mu.Unlock()

	tx, err := p.open(port)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		if p.state == StateStarting {
			p.state = StateNotStarted
			p.port = ""
		}
		return &ConnectionError{Port: port, Err: err}
	}
	if p.state != StateStarting {
		if cerr := tx.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("port", port).Msg("Failed to close DMX transmitter")
		}
		return ErrStopped
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = StateRunning

	go p.run(loopCtx, tx, p.done)

	log.Info().
		Str("port", port).
		Dur("interval", p.interval).
		Msg("DMX player started")
	return nil
}

// Stop cancels the transmission loop, waits for it and closes the transmitter.
// Stopping a player that never started is a no-op. Stopping during Start makes
// Start close the port and return ErrStopped.
func (p *Player) Stop() error {
	p.mu.Lock()
	if p.state == StateStarting {
		p.state = StateStopped
		p.mu.Unlock()
		return nil
	}
	if p.state != StateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopped
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Done is closed once the transmission loop has exited. It is nil before Start.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stats returns a snapshot of the loop counters.
func (p *Player) Stats() Stats {
	p.mu.Lock()
	st := Stats{State: p.state.String(), Port: p.port}
	p.mu.Unlock()

	st.FramesSent = p.sent.Load()
	st.FramesFailed = p.failed.Load()
	if ns := p.lastFrame.Load(); ns != 0 {
		st.LastFrame = time.Unix(0, ns)
	}
	if s, ok := p.lastErr.Load().(string); ok {
		st.LastError = s
	}
	return st
}

func (p *Player) run(ctx context.Context, tx Transmitter, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := tx.Close(); err != nil {
			log.Warn().Err(err).Str("port", p.port).Msg("Failed to close DMX transmitter")
		}
		log.Info().Str("port", p.port).Msg("DMX player stopped")
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.send(tx)
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.state = StateStopped
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.send(tx)
		}
	}
}

// send transmits one snapshot. Errors are recorded and never stop the loop.
func (p *Player) send(tx Transmitter) {
	frame := p.universe.Snapshot()

	if err := tx.Transmit(frame[:]); err != nil {
		n := p.failed.Add(1)
		p.lastErr.Store(err.Error())
		if p.errLog.Allow() {
			log.Error().
				Err(err).
				Str("port", p.port).
				Uint64("failed_total", n).
				Msg("Could not send DMX frame")
		}
		return
	}

	p.sent.Add(1)
	p.lastFrame.Store(time.Now().UnixNano())
}
