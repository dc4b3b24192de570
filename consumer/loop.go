// Package consumer moves published samples to the output channels.
package consumer

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/display"
	"github.com/mklimuk/envmon/environment"
	"github.com/mklimuk/envmon/mailbox"
)

const DefaultInterval = 10 * time.Millisecond

// Layout places the two readings on a screen.
type Layout struct {
	TempRow int
	HumRow  int
}

var (
	// OLEDLayout suits a 128x64 OLED with the logo area on the top rows.
	OLEDLayout = Layout{TempRow: 3, HumRow: 4}
	// LCDLayout suits a 20x4 character LCD.
	LCDLayout = Layout{TempRow: 0, HumRow: 1}
)

// Fixed columns. Values are right-aligned so that the decimal point stays
// in place whatever the width of the integer part.
const (
	tempLabel    = "Temperature: "
	tempValueCol = 12
	tempValueLen = 5
	tempUnitCol  = 17
	tempUnit     = " °C"

	humLabel    = "Humidity: "
	humValueCol = 9
	humValueLen = 5
	humUnitCol  = 14
	humUnit     = " %"

	staleValue = "--.-"
)

// Sink receives every record after the serial and screen channels.
type Sink interface {
	Emit(r envmon.Record)
}

type SinkFunc func(r envmon.Record)

func (f SinkFunc) Emit(r envmon.Record) {
	f(r)
}

type Opts struct {
	Layout     Layout
	Interval   time.Duration
	StaleAfter time.Duration
	Signed     bool
	Sinks      []Sink
	OnError    func(error)
	Clock      func() time.Time
	Splash     []string
	SplashHold time.Duration
}

type Opt func(*Opts)

func WithLayout(l Layout) Opt {
	return func(o *Opts) {
		o.Layout = l
	}
}

// WithInterval sets the polling period of Run.
func WithInterval(d time.Duration) Opt {
	return func(o *Opts) {
		o.Interval = d
	}
}

// WithStaleAfter shows placeholder values once no sample arrived for d.
// Zero keeps the last values on screen forever.
func WithStaleAfter(d time.Duration) Opt {
	return func(o *Opts) {
		o.StaleAfter = d
	}
}

// WithSignedTemperature interprets bit 7 of the temperature decimal byte as
// the DHT12 below-zero flag.
func WithSignedTemperature(enabled bool) Opt {
	return func(o *Opts) {
		o.Signed = enabled
	}
}

func WithSinks(sinks ...Sink) Opt {
	return func(o *Opts) {
		o.Sinks = append(o.Sinks, sinks...)
	}
}

// WithErrorHandler receives output channel failures. They never stop the loop.
func WithErrorHandler(fn func(error)) Opt {
	return func(o *Opts) {
		o.OnError = fn
	}
}

// WithSplash shows lines, one per row from the top, for hold before the
// labels are drawn. Empty lines leave their row untouched.
func WithSplash(hold time.Duration, lines ...string) Opt {
	return func(o *Opts) {
		o.Splash = lines
		o.SplashHold = hold
	}
}

func WithClock(now func() time.Time) Opt {
	return func(o *Opts) {
		o.Clock = now
	}
}

// Loop polls a slot and writes each new sample to a serial channel and a
// screen. Loop is meant to be driven by a single goroutine.
type Loop struct {
	slot   *mailbox.Slot
	serial io.StringWriter
	screen display.Screen
	config Opts

	last    time.Time
	stale   bool
	emitted uint64
}

func New(slot *mailbox.Slot, serial io.StringWriter, screen display.Screen, opts ...Opt) *Loop {
	config := Opts{
		Layout:   OLEDLayout,
		Interval: DefaultInterval,
		Clock:    time.Now,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Loop{
		slot:   slot,
		serial: serial,
		screen: screen,
		config: config,
		last:   config.Clock(),
	}
}

// Prepare draws the labels and units that never change.
func (l *Loop) Prepare() {
	l.last = l.config.Clock()
	if l.screen == nil {
		return
	}
	if len(l.config.Splash) > 0 {
		l.splash()
	}
	l.screen.SetCursor(0, l.config.Layout.TempRow)
	l.screen.Print(tempLabel)
	l.screen.SetCursor(tempUnitCol, l.config.Layout.TempRow)
	l.screen.Print(tempUnit)
	l.screen.SetCursor(0, l.config.Layout.HumRow)
	l.screen.Print(humLabel)
	l.screen.SetCursor(humUnitCol, l.config.Layout.HumRow)
	l.screen.Print(humUnit)
	l.commit()
}

// Poll performs one iteration. It reports whether a sample was emitted; an
// empty slot produces no output and no state change.
func (l *Loop) Poll() bool {
	r, ok := l.slot.Take()
	if !ok {
		l.checkStale()
		return false
	}
	l.last = l.config.Clock()
	l.stale = false
	temp, hum := l.format(r)
	l.show(temp, hum)
	for _, s := range l.config.Sinks {
		s.Emit(r)
	}
	l.emitted++
	return true
}

// Run polls until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()
	for {
		l.Poll()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Emitted returns the number of samples written out.
func (l *Loop) Emitted() uint64 {
	return l.emitted
}

// Line formats a record the way it is written to the serial channel.
func (l *Loop) Line(r envmon.Record) string {
	temp, hum := l.format(r)
	return line(temp, hum)
}

func line(temp, hum string) string {
	return temp + tempUnit + "\t" + hum + humUnit + "\r\n"
}

func (l *Loop) format(r envmon.Record) (temp, hum string) {
	tInt := strconv.Itoa(int(r.TempInt))
	tDec := r.TempDec
	if l.config.Signed {
		if environment.DHT12Negative(r) {
			tInt = "-" + tInt
		}
		tDec = environment.DHT12TempDecimal(r)
	}
	temp = tInt + "." + strconv.Itoa(int(tDec))
	hum = strconv.Itoa(int(r.HumInt)) + "." + strconv.Itoa(int(r.HumDec))
	return temp, hum
}

func (l *Loop) show(temp, hum string) {
	if l.serial != nil {
		if _, err := l.serial.WriteString(line(temp, hum)); err != nil {
			l.fail(fmt.Errorf("consumer: serial output failed: %w", err))
		}
	}
	if l.screen == nil {
		return
	}
	l.screen.SetCursor(tempValueCol, l.config.Layout.TempRow)
	l.screen.Print(fmt.Sprintf("%*s", tempValueLen, temp))
	l.screen.SetCursor(humValueCol, l.config.Layout.HumRow)
	l.screen.Print(fmt.Sprintf("%*s", humValueLen, hum))
	l.commit()
}

func (l *Loop) splash() {
	for row, text := range l.config.Splash {
		if text == "" {
			continue
		}
		l.screen.SetCursor(0, row)
		l.screen.Print(text)
	}
	l.commit()
	if l.config.SplashHold > 0 {
		time.Sleep(l.config.SplashHold)
	}
	for row, text := range l.config.Splash {
		l.screen.SetCursor(0, row)
		l.screen.Print(strings.Repeat(" ", utf8.RuneCountInString(text)))
	}
}

func (l *Loop) checkStale() {
	if l.config.StaleAfter <= 0 || l.stale || l.last.IsZero() {
		return
	}
	if l.config.Clock().Sub(l.last) < l.config.StaleAfter {
		return
	}
	l.stale = true
	l.show(staleValue, staleValue)
}

func (l *Loop) commit() {
	if err := l.screen.Commit(); err != nil {
		l.fail(fmt.Errorf("consumer: screen commit failed: %w", err))
	}
}

func (l *Loop) fail(err error) {
	if l.config.OnError != nil {
		l.config.OnError(err)
	}
}
