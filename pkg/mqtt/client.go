package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/itohio/gotank/pkg/cadence"
	"github.com/itohio/gotank/pkg/config"
	"github.com/rs/zerolog"
)

// ErrOffline is returned by publishing calls while no broker session is up.
var ErrOffline = errors.New("mqtt offline")

const (
	// DefaultRetry is the pause between connection attempts.
	DefaultRetry = 3 * time.Second

	dialTimeout = 5 * time.Second
	sendTimeout = 5 * time.Second
)

// Options configure the broker session.
type Options struct {
	Host      string
	Port      uint16
	User      string
	Pass      string
	KeepAlive time.Duration
	ClientID  string
	Retry     time.Duration

	Device    Device
	BaseTopic string
}

// OptionsFromConfig builds session options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		User:      cfg.MQTT.User,
		Pass:      cfg.MQTT.Pass,
		KeepAlive: cfg.MQTT.KeepAlive,
		Device:    Device{Name: cfg.Device.Name},
		BaseTopic: cfg.Device.BaseTopic,
	}
}

// Handlers receive commands from the broker.
type Handlers struct {
	SetRelay func(on bool) error
	SetMode  func(mode string) error
}

// Client keeps a broker session alive, announces the device and publishes
// state changes.
type Client struct {
	opt      Options
	handlers Handlers
	source   func() Snapshot
	clock    cadence.Clock
	log      zerolog.Logger

	online atomic.Bool

	// mu guards the publisher cache and the session.
	mu  sync.Mutex
	pub *Publisher
	pc  *paho.Client
	ip  string
}

// New creates a client. source is called whenever the current state is
// needed and must be safe for concurrent use.
func New(opt Options, source func() Snapshot, handlers Handlers, clock cadence.Clock, log zerolog.Logger) *Client {
	if opt.Retry <= 0 {
		opt.Retry = DefaultRetry
	}
	if opt.ClientID == "" {
		opt.ClientID = opt.Device.Name + "-" + uuid.NewString()[:8]
	}
	return &Client{
		opt:      opt,
		handlers: handlers,
		source:   source,
		clock:    clock,
		log:      log.With().Str("component", "mqtt").Logger(),
		pub:      NewPublisher(opt.Device, opt.BaseTopic),
	}
}

// Online reports whether a broker session is up.
func (c *Client) Online() bool { return c.online.Load() }

// Run connects and reconnects until ctx is done. With no host configured
// it only waits for ctx.
func (c *Client) Run(ctx context.Context) error {
	if c.opt.Host == "" {
		c.log.Info().Msg("no broker configured, mqtt disabled")
		<-ctx.Done()
		return nil
	}

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.log.Warn().Err(err).Dur("retry", c.opt.Retry).Msg("mqtt session ended")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opt.Retry):
		}
	}
}

// session runs one broker connection until it is lost or ctx is done.
func (c *Client) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(c.opt.Host, strconv.Itoa(int(c.opt.Port))))
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}

	lost := make(chan error, 1)
	signal := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	pc := paho.NewClient(paho.ClientConfig{
		ClientID: c.opt.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.onPublish,
		},
		OnClientError: signal,
		OnServerDisconnect: func(d *paho.Disconnect) {
			signal(fmt.Errorf("server disconnected with reason %d", d.ReasonCode))
		},
	})

	will := c.pub.Offline()
	if _, err := pc.Connect(ctx, &paho.Connect{
		ClientID:     c.opt.ClientID,
		KeepAlive:    uint16(c.opt.KeepAlive.Seconds()),
		CleanStart:   true,
		Username:     c.opt.User,
		UsernameFlag: c.opt.User != "",
		Password:     []byte(c.opt.Pass),
		PasswordFlag: c.opt.User != "",
		WillMessage: &paho.WillMessage{
			Retain:  true,
			QoS:     0,
			Topic:   will.Topic,
			Payload: will.Payload,
		},
	}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to connect: %w", err)
	}

	ip := localIP(conn)
	c.mu.Lock()
	c.pc = pc
	c.ip = ip
	c.pub.dev.MAC = macFor(ip)
	c.mu.Unlock()
	c.online.Store(true)
	defer func() {
		c.online.Store(false)
		c.mu.Lock()
		c.pc = nil
		c.mu.Unlock()
	}()

	topics := c.pub.Topics()
	if _, err := pc.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topics.RelaySet, QoS: 0},
			{Topic: topics.ModeSet, QoS: 0},
		},
	}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if err := c.announce(ctx); err != nil {
		conn.Close()
		return err
	}
	c.log.Info().Str("broker", c.opt.Host).Str("client_id", c.opt.ClientID).Str("ip", ip).Msg("mqtt connected")

	select {
	case <-ctx.Done():
		c.goodbye(pc)
		return nil
	case err := <-lost:
		conn.Close()
		return fmt.Errorf("connection lost: %w", err)
	}
}

// announce publishes availability, discovery and the full state.
func (c *Client) announce(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, err := c.pub.All(c.snapshotLocked(), c.clock.Millis())
	if err != nil {
		return fmt.Errorf("failed to build announcement: %w", err)
	}
	return c.sendLocked(ctx, msgs)
}

// goodbye marks the device offline and disconnects cleanly.
func (c *Client) goodbye(pc *paho.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	c.mu.Lock()
	if err := c.sendLocked(ctx, []Message{c.pub.Offline()}); err != nil {
		c.log.Debug().Err(err).Msg("failed to publish offline status")
	}
	c.mu.Unlock()

	if err := pc.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		c.log.Debug().Err(err).Msg("disconnect failed")
	}
}

// PublishDiff publishes what changed since the last call.
func (c *Client) PublishDiff(ctx context.Context) error {
	if !c.online.Load() {
		return ErrOffline
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, err := c.pub.Diff(c.snapshotLocked(), c.clock.Millis())
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}
	return c.sendLocked(ctx, msgs)
}

// Reannounce republishes discovery and the full state.
func (c *Client) Reannounce(ctx context.Context) error {
	if !c.online.Load() {
		return ErrOffline
	}
	return c.announce(ctx)
}

func (c *Client) onPublish(pr paho.PublishReceived) (bool, error) {
	topics := c.pub.Topics()
	msg := strings.ToLower(strings.TrimSpace(string(pr.Packet.Payload)))

	var (
		msgs []Message
		err  error
	)
	switch pr.Packet.Topic {
	case topics.RelaySet:
		on := msg == "on" || msg == "1" || msg == "true"
		c.log.Info().Bool("on", on).Msg("relay command")
		if c.handlers.SetRelay != nil {
			if herr := c.handlers.SetRelay(on); herr != nil {
				c.log.Warn().Err(herr).Msg("relay command failed")
			}
		}
		c.mu.Lock()
		msgs, err = c.pub.RelayCommand(on, c.snapshotLocked(), c.clock.Millis())
		c.mu.Unlock()

	case topics.ModeSet:
		mode := config.ParseMode(msg)
		c.log.Info().Str("mode", mode).Msg("mode command")
		if c.handlers.SetMode != nil {
			if herr := c.handlers.SetMode(mode); herr != nil {
				c.log.Warn().Err(herr).Msg("mode command failed")
			}
		}
		c.mu.Lock()
		s := c.snapshotLocked()
		s.Mode = mode
		msgs, err = c.pub.ModeCommand(s, c.clock.Millis())
		c.mu.Unlock()

	default:
		return false, nil
	}
	if err != nil {
		return true, err
	}

	// Handlers must not block the receive loop
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.sendLocked(ctx, msgs); err != nil {
			c.log.Warn().Err(err).Msg("failed to acknowledge command")
		}
	}()
	return true, nil
}

func (c *Client) snapshotLocked() Snapshot {
	s := c.source()
	s.IP = c.ip
	return s
}

func (c *Client) sendLocked(ctx context.Context, msgs []Message) error {
	if c.pc == nil {
		return ErrOffline
	}
	for _, m := range msgs {
		if _, err := c.pc.Publish(ctx, &paho.Publish{
			Topic:   m.Topic,
			QoS:     0,
			Retain:  m.Retain,
			Payload: m.Payload,
		}); err != nil {
			return fmt.Errorf("failed to publish %s: %w", m.Topic, err)
		}
	}
	return nil
}

func localIP(conn net.Conn) string {
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

// macFor finds the hardware address of the interface holding ip.
func macFor(ip string) string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && n.IP.String() == ip {
				return strings.ToUpper(iface.HardwareAddr.String())
			}
		}
	}
	return ""
}
