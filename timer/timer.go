package timer

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultClock is the reference core clock the selectors are designed for.
const DefaultClock = 16_000_000

// Reload is the number of counts between two overflows of the 16-bit counter.
const Reload = 1 << 16

var ErrUnknownSelector = fmt.Errorf("timer: unknown overflow selector")

// Selector picks one of the fixed overflow periods. Each selector is a clock
// divider; the period is divider × Reload / clock.
type Selector int

const (
	Overflow4ms Selector = iota
	Overflow33ms
	Overflow262ms
	Overflow1s
	Overflow4s
)

var selectors = []struct {
	name    string
	divider uint64
}{
	Overflow4ms:   {"4ms", 1},
	Overflow33ms:  {"33ms", 8},
	Overflow262ms: {"262ms", 64},
	Overflow1s:    {"1s", 256},
	Overflow4s:    {"4s", 1024},
}

// Selectors lists every known selector from the shortest period to the longest.
func Selectors() []Selector {
	return []Selector{Overflow4ms, Overflow33ms, Overflow262ms, Overflow1s, Overflow4s}
}

// ParseSelector accepts the names returned by Selector.String.
func ParseSelector(s string) (Selector, error) {
	for i, sel := range selectors {
		if strings.EqualFold(sel.name, s) {
			return Selector(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSelector, s)
}

func (s Selector) valid() bool {
	return s >= 0 && int(s) < len(selectors)
}

func (s Selector) String() string {
	if !s.valid() {
		return fmt.Sprintf("Selector(%d)", int(s))
	}
	return selectors[s].name
}

// Divider returns the clock prescaler of the selector, or 0 if it is unknown.
func (s Selector) Divider() int {
	if !s.valid() {
		return 0
	}
	return int(selectors[s].divider)
}

// Period returns the time between two overflows at the given clock.
func (s Selector) Period(clockHz uint64) time.Duration {
	if !s.valid() || clockHz == 0 {
		return 0
	}
	return time.Duration(selectors[s].divider * Reload * uint64(time.Second) / clockHz)
}

func (s Selector) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSelector, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Selector) UnmarshalText(b []byte) error {
	sel, err := ParseSelector(string(b))
	if err != nil {
		return err
	}
	*s = sel
	return nil
}

type Opts struct {
	ClockHz uint64
}

type Opt func(*Opts)

// WithClock sets the clock the selectors divide.
func WithClock(hz uint64) Opt {
	return func(o *Opts) {
		o.ClockHz = hz
	}
}

// Timer raises a periodic overflow event and runs a handler on each one.
//
// The handler is never re-entered: overflows are serialised, and an overflow
// that comes due while the handler still runs stays pending until it returns.
// Further overflows during that time are lost, like a single hardware
// overflow flag.
type Timer struct {
	handler func()
	config  Opts

	mx      sync.Mutex
	sel     Selector
	ticker  *time.Ticker
	stop    chan struct{}
	stopped chan struct{}

	run       sync.Mutex
	overflows atomic.Uint64
}

// New returns a disabled timer configured for Overflow1s.
func New(handler func(), opts ...Opt) *Timer {
	config := Opts{
		ClockHz: DefaultClock,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Timer{
		handler: handler,
		config:  config,
		sel:     Overflow1s,
	}
}

// Configure selects the overflow period. It takes effect immediately on an
// enabled timer.
func (t *Timer) Configure(sel Selector) error {
	if !sel.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownSelector, int(sel))
	}
	t.mx.Lock()
	defer t.mx.Unlock()
	t.sel = sel
	if t.ticker != nil {
		t.ticker.Reset(t.period())
	}
	return nil
}

func (t *Timer) Selector() Selector {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.sel
}

// Period returns the configured overflow period.
func (t *Timer) Period() time.Duration {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.period()
}

func (t *Timer) period() time.Duration {
	return t.sel.Period(t.config.ClockHz)
}

// Enable starts raising overflows. Enabling an enabled timer does nothing.
func (t *Timer) Enable() {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.ticker != nil {
		return
	}
	t.ticker = time.NewTicker(t.period())
	t.stop = make(chan struct{})
	t.stopped = make(chan struct{})
	go t.loop(t.ticker, t.stop, t.stopped)
}

// Disable stops raising overflows and waits for a running handler to return.
// It must not be called from the handler.
func (t *Timer) Disable() {
	t.mx.Lock()
	if t.ticker == nil {
		t.mx.Unlock()
		return
	}
	t.ticker.Stop()
	close(t.stop)
	stopped := t.stopped
	t.ticker = nil
	t.mx.Unlock()
	<-stopped
}

func (t *Timer) Enabled() bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.ticker != nil
}

// Overflow runs the handler once, as if the counter had just overflowed.
func (t *Timer) Overflow() {
	t.run.Lock()
	defer t.run.Unlock()
	t.overflows.Add(1)
	if t.handler != nil {
		t.handler()
	}
}

// Overflows returns how many times the handler was run.
func (t *Timer) Overflows() uint64 {
	return t.overflows.Load()
}

func (t *Timer) loop(ticker *time.Ticker, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			t.Overflow()
		}
	}
}
