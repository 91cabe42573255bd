package mqtt

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gotank/pkg/cadence"
	"github.com/itohio/gotank/pkg/config"
)

// freePort finds a TCP port for the in-process broker.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func startBroker(t *testing.T) (*mochi.Server, int) {
	t.Helper()
	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	port := freePort(t)
	tcp := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "t1",
		Address: "127.0.0.1:" + strconv.Itoa(port),
	})
	require.NoError(t, server.AddListener(tcp))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })
	return server, port
}

// inbox collects messages seen by the broker's inline client.
type inbox struct {
	mu   sync.Mutex
	msgs map[string]string
}

func (b *inbox) handler(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs[pk.TopicName] = string(pk.Payload)
}

func (b *inbox) get(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.msgs[topic]
	return v, ok
}

type state struct {
	mu   sync.Mutex
	snap Snapshot
}

func (s *state) get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *state) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
}

func TestClient_EndToEnd(t *testing.T) {
	server, port := startBroker(t)
	box := &inbox{msgs: map[string]string{}}
	require.NoError(t, server.Subscribe("#", 1, box.handler))

	st := &state{snap: Snapshot{Level: 50, Mode: config.ModeAuto, SampleMs: 50, ConfirmNeeded: 3}}
	relayCmds := make(chan bool, 4)
	modeCmds := make(chan string, 4)

	client := New(Options{
		Host:      "127.0.0.1",
		Port:      uint16(port),
		KeepAlive: 30 * time.Second,
		Retry:     100 * time.Millisecond,
		Device:    Device{Name: "tank"},
		BaseTopic: "home/tank",
	}, st.get, Handlers{
		SetRelay: func(on bool) error {
			st.update(func(s *Snapshot) { s.Relay = on })
			relayCmds <- on
			return nil
		},
		SetMode: func(mode string) error {
			st.update(func(s *Snapshot) { s.Mode = mode })
			modeCmds <- mode
			return nil
		},
	}, cadence.NewSystem(), zerolog.Nop())

	assert.ErrorIs(t, client.PublishDiff(context.Background()), ErrOffline)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, client.Online, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		v, ok := box.get("home/tank/level/state")
		return ok && v == "50"
	}, 5*time.Second, 10*time.Millisecond)

	status, _ := box.get("home/tank/status")
	assert.Equal(t, "online", status)
	_, ok := box.get("homeassistant/switch/tank/pump/config")
	assert.True(t, ok, "discovery announced")
	ip, _ := box.get("home/tank/ip")
	assert.Equal(t, "127.0.0.1", ip)

	// State change goes out on the next diff
	st.update(func(s *Snapshot) { s.Level = 100; s.S100 = true })
	require.NoError(t, client.PublishDiff(context.Background()))
	require.Eventually(t, func() bool {
		v, _ := box.get("home/tank/level/state")
		return v == "100"
	}, 5*time.Second, 10*time.Millisecond)

	// Commands
	require.NoError(t, server.Publish("home/tank/relay/set", []byte(" True "), false, 0))
	select {
	case on := <-relayCmds:
		assert.True(t, on)
	case <-time.After(5 * time.Second):
		t.Fatal("relay command not delivered")
	}
	require.Eventually(t, func() bool {
		v, _ := box.get("home/tank/relay/state")
		return v == "ON"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Publish("home/tank/mode/set", []byte("EXTERNAL"), false, 0))
	select {
	case mode := <-modeCmds:
		assert.Equal(t, config.ModeExternal, mode)
	case <-time.After(5 * time.Second):
		t.Fatal("mode command not delivered")
	}
	require.Eventually(t, func() bool {
		v, _ := box.get("home/tank/mode/state")
		return v == "external"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Reannounce(context.Background()))

	// Clean shutdown marks the device offline
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	require.Eventually(t, func() bool {
		v, _ := box.get("home/tank/status")
		return v == "offline"
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, client.Online())
}

func TestClient_DisabledWithoutHost(t *testing.T) {
	client := New(Options{Device: Device{Name: "tank"}}, func() Snapshot { return Snapshot{} }, Handlers{}, cadence.NewSystem(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, client.Run(ctx))
	assert.ErrorIs(t, client.Reannounce(context.Background()), ErrOffline)
}

func TestClient_RetriesUnreachableBroker(t *testing.T) {
	client := New(Options{
		Host:   "127.0.0.1",
		Port:   uint16(freePort(t)),
		Retry:  10 * time.Millisecond,
		Device: Device{Name: "tank"},
	}, func() Snapshot { return Snapshot{} }, Handlers{}, cadence.NewSystem(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, client.Run(ctx))
	assert.False(t, client.Online())
}

func TestNew_GeneratesClientID(t *testing.T) {
	a := New(Options{Device: Device{Name: "tank"}}, nil, Handlers{}, cadence.NewSystem(), zerolog.Nop())
	b := New(Options{Device: Device{Name: "tank"}}, nil, Handlers{}, cadence.NewSystem(), zerolog.Nop())
	assert.Contains(t, a.opt.ClientID, "tank-")
	assert.NotEqual(t, a.opt.ClientID, b.opt.ClientID)
	assert.Equal(t, DefaultRetry, a.opt.Retry)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Host = "broker"
	opt := OptionsFromConfig(cfg)
	assert.Equal(t, "broker", opt.Host)
	assert.Equal(t, uint16(1883), opt.Port)
	assert.Equal(t, "tank-sensor", opt.Device.Name)
	assert.Equal(t, "home/tank", opt.BaseTopic)
}
