package consumer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/display"
	"github.com/mklimuk/envmon/mailbox"
)

type serialBuffer struct {
	mx sync.Mutex
	sb strings.Builder
}

func (s *serialBuffer) WriteString(str string) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.sb.WriteString(str)
}

func (s *serialBuffer) String() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.sb.String()
}

type countingScreen struct {
	display.Screen
	commits int
	err     error
}

func (c *countingScreen) Commit() error {
	c.commits++
	if c.err != nil {
		return c.err
	}
	return c.Screen.Commit()
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newLoop(t *testing.T, opts ...Opt) (*Loop, *mailbox.Slot, *serialBuffer, *display.Frame) {
	t.Helper()
	var slot mailbox.Slot
	serial := &serialBuffer{}
	frame := display.NewFrame(&bytes.Buffer{})
	l := New(&slot, serial, frame, opts...)
	l.Prepare()
	return l, &slot, serial, frame
}

func TestLoop_Prepare(t *testing.T) {
	_, _, serial, frame := newLoop(t)
	assert.Equal(t, "Temperature:"+strings.Repeat(" ", 6)+"°C ", frame.Line(3))
	assert.Equal(t, "Humidity:"+strings.Repeat(" ", 6)+"%"+strings.Repeat(" ", 5), frame.Line(4))
	assert.Empty(t, serial.String())
}

// snapshotScreen records the first rows of a frame at every commit.
type snapshotScreen struct {
	*display.Frame
	shots [][]string
}

func (s *snapshotScreen) Commit() error {
	s.shots = append(s.shots, []string{s.Line(0), s.Line(1), s.Line(2)})
	return s.Frame.Commit()
}

func TestLoop_Splash(t *testing.T) {
	var slot mailbox.Slot
	screen := &snapshotScreen{Frame: display.NewFrame(&bytes.Buffer{})}
	l := New(&slot, nil, screen, WithSplash(0, "envmon", "", "21x8 terminal"))
	l.Prepare()

	require.Len(t, screen.shots, 2)
	assert.Equal(t, "envmon", strings.TrimSpace(screen.shots[0][0]))
	assert.Equal(t, "", strings.TrimSpace(screen.shots[0][1]))
	assert.Equal(t, "21x8 terminal", strings.TrimSpace(screen.shots[0][2]))
	for _, row := range screen.shots[1] {
		assert.Equal(t, "", strings.TrimSpace(row))
	}
	assert.Equal(t, "Temperature:"+strings.Repeat(" ", 6)+"°C ", screen.Line(3))
}

func TestLoop_Poll(t *testing.T) {
	l, slot, serial, frame := newLoop(t)
	slot.Publish(envmon.Record{HumInt: 45, HumDec: 2, TempInt: 23, TempDec: 6})

	assert.True(t, l.Poll())
	assert.Equal(t, "23.6 °C\t45.2 %\r\n", serial.String())
	assert.Equal(t, "Temperature: 23.6 °C ", frame.Line(3))
	assert.Equal(t, "Humidity: 45.2 %     ", frame.Line(4))
	assert.Equal(t, mailbox.Empty, slot.Flag())
	assert.Equal(t, uint64(1), l.Emitted())
}

func TestLoop_PollEmptyIsIdempotent(t *testing.T) {
	var slot mailbox.Slot
	serial := &serialBuffer{}
	screen := &countingScreen{Screen: display.NewFrame(&bytes.Buffer{})}
	l := New(&slot, serial, screen)
	l.Prepare()
	commits := screen.commits

	for range 3 {
		assert.False(t, l.Poll())
	}
	assert.Empty(t, serial.String())
	assert.Equal(t, commits, screen.commits)
	assert.Equal(t, uint64(0), l.Emitted())
}

func TestLoop_LastWriterWins(t *testing.T) {
	l, slot, serial, _ := newLoop(t)
	slot.Publish(envmon.Record{HumInt: 45, HumDec: 2, TempInt: 23, TempDec: 6})
	slot.Publish(envmon.Record{HumInt: 50, HumDec: 1, TempInt: 24, TempDec: 9})

	assert.True(t, l.Poll())
	assert.False(t, l.Poll())
	assert.Equal(t, "24.9 °C\t50.1 %\r\n", serial.String())
	assert.Equal(t, uint64(1), l.Emitted())
}

func TestLoop_Values(t *testing.T) {
	tests := []struct {
		name   string
		signed bool
		given  envmon.Record
		line   string
		temp   string
		hum    string
	}{
		{
			name:  "single digits",
			given: envmon.Record{HumInt: 5, HumDec: 0, TempInt: 7, TempDec: 1},
			line:  "7.1 °C\t5.0 %\r\n",
			temp:  "Temperature:  7.1 °C ",
			hum:   "Humidity:  5.0 %     ",
		},
		{
			name:   "below zero",
			signed: true,
			given:  envmon.Record{HumInt: 80, HumDec: 4, TempInt: 12, TempDec: 0x85},
			line:   "-12.5 °C\t80.4 %\r\n",
			temp:   "Temperature:-12.5 °C ",
			hum:    "Humidity: 80.4 %     ",
		},
		{
			name:  "raw sign flag",
			given: envmon.Record{HumInt: 80, HumDec: 4, TempInt: 2, TempDec: 0x85},
			line:  "2.133 °C\t80.4 %\r\n",
		},
		{
			name:  "full humidity",
			given: envmon.Record{HumInt: 100, HumDec: 0, TempInt: 20, TempDec: 0},
			line:  "20.0 °C\t100.0 %\r\n",
			hum:   "Humidity:100.0 %     ",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l, slot, serial, frame := newLoop(t, WithSignedTemperature(test.signed))
			slot.Publish(test.given)
			require.True(t, l.Poll())
			assert.Equal(t, test.line, serial.String())
			assert.Equal(t, test.line, l.Line(test.given))
			if test.temp != "" {
				assert.Equal(t, test.temp, frame.Line(3))
			}
			if test.hum != "" {
				assert.Equal(t, test.hum, frame.Line(4))
			}
		})
	}
}

func TestLoop_Stale(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l, slot, serial, frame := newLoop(t, WithStaleAfter(5*time.Second), WithClock(clock.Now))

	clock.now = clock.now.Add(4 * time.Second)
	assert.False(t, l.Poll())
	assert.Empty(t, serial.String())

	clock.now = clock.now.Add(2 * time.Second)
	assert.False(t, l.Poll())
	assert.False(t, l.Poll())
	assert.Equal(t, "--.- °C\t--.- %\r\n", serial.String())
	assert.Equal(t, "Temperature: --.- °C ", frame.Line(3))
	assert.Equal(t, "Humidity: --.- %     ", frame.Line(4))

	slot.Publish(envmon.Record{HumInt: 45, HumDec: 2, TempInt: 23, TempDec: 6})
	assert.True(t, l.Poll())
	assert.Equal(t, "Temperature: 23.6 °C ", frame.Line(3))

	clock.now = clock.now.Add(6 * time.Second)
	assert.False(t, l.Poll())
	assert.Equal(t, 4, strings.Count(serial.String(), "--.-"))
}

func TestLoop_SinksAndErrors(t *testing.T) {
	var slot mailbox.Slot
	var got []envmon.Record
	var errs []error
	commitErr := errors.New("i2c gone")
	screen := &countingScreen{Screen: display.NewFrame(&bytes.Buffer{}), err: commitErr}
	l := New(&slot, nil, screen,
		WithLayout(LCDLayout),
		WithSinks(SinkFunc(func(r envmon.Record) { got = append(got, r) })),
		WithErrorHandler(func(err error) { errs = append(errs, err) }),
	)
	l.Prepare()
	require.Len(t, errs, 1)

	r := envmon.Record{HumInt: 45, HumDec: 2, TempInt: 23, TempDec: 6}
	slot.Publish(r)
	assert.True(t, l.Poll())
	assert.Equal(t, []envmon.Record{r}, got)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[1], commitErr)
}

func TestLoop_Run(t *testing.T) {
	var slot mailbox.Slot
	serial := &serialBuffer{}
	l := New(&slot, serial, nil, WithInterval(time.Millisecond))
	l.Prepare()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- l.Run(ctx)
	}()

	slot.Publish(envmon.Record{HumInt: 45, HumDec: 2, TempInt: 23, TempDec: 6})
	assert.Eventually(t, func() bool {
		return serial.String() == "23.6 °C\t45.2 %\r\n"
	}, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
