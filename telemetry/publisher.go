// Package telemetry forwards samples to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"

	"github.com/mklimuk/envmon"
	"github.com/mklimuk/envmon/environment"
)

// Reading is the JSON document published for every sample.
type Reading struct {
	Temperature float32       `json:"temperature"`
	Humidity    float32       `json:"humidity"`
	Record      envmon.Record `json:"record"`
	Timestamp   time.Time     `json:"timestamp"`
}

type Opts struct {
	Topic      string
	ClientID   string
	Username   string
	Password   string
	QueueLen   int
	Timeout    time.Duration
	RetryDelay time.Duration
	Dial       func(ctx context.Context, addr string) (net.Conn, error)
	OnError    func(error)
}

type Opt func(*Opts)

func WithTopic(topic string) Opt {
	return func(o *Opts) {
		o.Topic = topic
	}
}

func WithClientID(id string) Opt {
	return func(o *Opts) {
		o.ClientID = id
	}
}

func WithCredentials(username, password string) Opt {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// WithQueueLen sets how many samples wait for the broker before new ones are dropped.
func WithQueueLen(n int) Opt {
	return func(o *Opts) {
		o.QueueLen = n
	}
}

// WithTimeout bounds every network exchange with the broker.
func WithTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.Timeout = d
	}
}

func WithRetryDelay(d time.Duration) Opt {
	return func(o *Opts) {
		o.RetryDelay = d
	}
}

func WithDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) Opt {
	return func(o *Opts) {
		o.Dial = dial
	}
}

// WithErrorHandler receives connection failures. Run keeps retrying after them.
func WithErrorHandler(fn func(error)) Opt {
	return func(o *Opts) {
		o.OnError = fn
	}
}

// Publisher queues samples and publishes them with QoS 0. Emit never blocks.
type Publisher struct {
	addr   string
	config Opts
	queue  chan Reading

	packetID  atomic.Uint32
	published atomic.Uint64
	dropped   atomic.Uint64
	connected atomic.Bool
}

func NewPublisher(addr string, opts ...Opt) *Publisher {
	config := Opts{
		Topic:      "envmon/dht12",
		ClientID:   "envmon",
		QueueLen:   8,
		Timeout:    5 * time.Second,
		RetryDelay: 2 * time.Second,
		Dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Publisher{
		addr:   addr,
		config: config,
		queue:  make(chan Reading, config.QueueLen),
	}
}

// Emit queues a sample, dropping it when the queue is full.
func (p *Publisher) Emit(r envmon.Record) {
	reading := Reading{
		Temperature: environment.DHT12Temperature(r),
		Humidity:    environment.DHT12Humidity(r),
		Record:      r,
		Timestamp:   time.Now().UTC(),
	}
	select {
	case p.queue <- reading:
	default:
		p.dropped.Add(1)
	}
}

// Stats returns the number of samples published and dropped.
func (p *Publisher) Stats() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}

func (p *Publisher) Connected() bool {
	return p.connected.Load()
}

// Run connects to the broker and publishes queued samples until ctx is done.
// A lost connection is re-established after the retry delay.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && p.config.OnError != nil {
			p.config.OnError(err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.config.RetryDelay):
		}
	}
}

func (p *Publisher) session(ctx context.Context) error {
	conn, err := p.config.Dial(ctx, p.addr)
	if err != nil {
		return fmt.Errorf("telemetry: dial %s failed: %w", p.addr, err)
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()
	defer p.connected.Store(false)

	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 512)},
		OnPub: func(_ mqtt.Header, _ mqtt.VariablesPublish, r io.Reader) error {
			_, err := io.Copy(io.Discard, r)
			return err
		},
	})
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(p.config.ClientID))
	if p.config.Username != "" {
		varconn.Username = []byte(p.config.Username)
		if p.config.Password != "" {
			varconn.Password = []byte(p.config.Password)
		}
	}

	_ = conn.SetDeadline(time.Now().Add(p.config.Timeout))
	if err := client.StartConnect(conn, &varconn); err != nil {
		return fmt.Errorf("telemetry: connect failed: %w", err)
	}
	for !client.IsConnected() {
		if err := client.HandleNext(); err != nil {
			return fmt.Errorf("telemetry: connect failed: %w", err)
		}
	}
	p.connected.Store(true)

	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return fmt.Errorf("telemetry: publish flags: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case reading := <-p.queue:
			payload, err := json.Marshal(reading)
			if err != nil {
				return fmt.Errorf("telemetry: marshal failed: %w", err)
			}
			_ = conn.SetDeadline(time.Now().Add(p.config.Timeout))
			err = client.PublishPayload(flags, mqtt.VariablesPublish{
				TopicName:        []byte(p.config.Topic),
				PacketIdentifier: p.nextPacketID(),
			}, payload)
			if err != nil {
				return fmt.Errorf("telemetry: publish failed: %w", err)
			}
			p.published.Add(1)
		}
	}
}

func (p *Publisher) nextPacketID() uint16 {
	id := uint16(p.packetID.Add(1))
	if id == 0 {
		id = uint16(p.packetID.Add(1))
	}
	return id
}
