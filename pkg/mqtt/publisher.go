package mqtt

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// AttributeHeartbeatMs is how often attributes are republished when
// nothing changed.
const AttributeHeartbeatMs = 5 * 60 * 1000

// Message is one retained publication.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// ProbeAttributes carries analog detector telemetry.
type ProbeAttributes struct {
	Reading          uint16 `json:"reading"`
	Baseline         uint16 `json:"baseline"`
	Threshold        uint16 `json:"threshold"`
	Deviation        uint16 `json:"deviation"`
	Settling         bool   `json:"settling"`
	ConfirmRemaining int    `json:"confirm_remaining"`
}

// Snapshot is the controller state to publish.
type Snapshot struct {
	Level         uint8
	Error         bool
	Relay         bool
	Mode          string
	S50, S100     bool
	Pending50     int // samples a pending sensor change still needs
	Pending100    int
	SampleMs      uint32
	ConfirmNeeded uint16
	Probes        []ProbeAttributes
	IP            string
}

type attributes struct {
	SampleMs      uint32            `json:"sample_ms"`
	ConfirmNeeded uint16            `json:"confirm_needed"`
	Mode          string            `json:"mode"`
	S50           bool              `json:"s50"`
	S100          bool              `json:"s100"`
	S50Pending    int               `json:"s50_pending"`
	S100Pending   int               `json:"s100_pending"`
	Error         bool              `json:"error"`
	Probes        []ProbeAttributes `json:"probes,omitempty"`
}

// Publisher decides what to publish. It caches the last published values
// so that periodic calls only emit changes. It is not safe for concurrent
// use.
type Publisher struct {
	dev    Device
	topics Topics

	cached     bool
	last       Snapshot
	lastAttr   []byte
	lastAttrMs uint32
}

// NewPublisher creates a publisher for a device under a base topic.
func NewPublisher(dev Device, base string) *Publisher {
	return &Publisher{dev: dev, topics: NewTopics(base)}
}

// Topics returns the topic set in use.
func (p *Publisher) Topics() Topics { return p.topics }

// Online is the availability message sent after connecting.
func (p *Publisher) Online() Message { return p.retained(p.topics.Status, "online") }

// Offline is the availability message used as last will and on shutdown.
func (p *Publisher) Offline() Message { return p.retained(p.topics.Status, "offline") }

// Discovery returns the Home Assistant discovery configs.
func (p *Publisher) Discovery() ([]Message, error) {
	return discovery(p.dev, p.topics)
}

// All returns the full state announcement and resets the change cache.
func (p *Publisher) All(s Snapshot, nowMs uint32) ([]Message, error) {
	disc, err := p.Discovery()
	if err != nil {
		return nil, err
	}
	attr, err := buildAttributes(s)
	if err != nil {
		return nil, err
	}

	msgs := []Message{p.Online()}
	msgs = append(msgs, disc...)
	msgs = append(msgs,
		p.mode(s.Mode),
		p.retained(p.topics.IP, s.IP),
		p.level(s.Level),
		p.errorState(s.Error),
		p.relay(s.Relay),
		p.attributes(attr),
	)

	p.cached = true
	p.last = s
	p.lastAttr = attr
	p.lastAttrMs = nowMs
	return msgs, nil
}

// Diff returns the messages for values that changed since the last call.
// Attributes follow any state change and are otherwise refreshed every
// AttributeHeartbeatMs. An IP change is published on its own.
func (p *Publisher) Diff(s Snapshot, nowMs uint32) ([]Message, error) {
	if !p.cached {
		attr, err := buildAttributes(s)
		if err != nil {
			return nil, err
		}
		p.cached = true
		p.last = s
		p.lastAttr = attr
		p.lastAttrMs = nowMs
		return nil, nil
	}

	var msgs []Message
	changed := false
	if s.Level != p.last.Level {
		msgs = append(msgs, p.level(s.Level))
		changed = true
	}
	if s.Error != p.last.Error {
		msgs = append(msgs, p.errorState(s.Error))
		changed = true
	}
	if s.Relay != p.last.Relay {
		msgs = append(msgs, p.relay(s.Relay))
		changed = true
	}
	if s.Mode != p.last.Mode {
		msgs = append(msgs, p.mode(s.Mode))
		changed = true
	}
	if s.IP != p.last.IP {
		msgs = append(msgs, p.retained(p.topics.IP, s.IP))
	}
	p.last = s

	switch {
	case changed:
		attr, err := buildAttributes(s)
		if err != nil {
			return msgs, err
		}
		if !bytes.Equal(attr, p.lastAttr) {
			msgs = append(msgs, p.attributes(attr))
			p.lastAttr = attr
			p.lastAttrMs = nowMs
		}
	case int32(nowMs-p.lastAttrMs) >= AttributeHeartbeatMs:
		attr, err := buildAttributes(s)
		if err != nil {
			return msgs, err
		}
		// Republished even when unchanged so retained copies stay fresh
		msgs = append(msgs, p.attributes(attr))
		p.lastAttr = attr
		p.lastAttrMs = nowMs
	}

	return msgs, nil
}

// RelayCommand acknowledges a pump command with its state and attributes.
func (p *Publisher) RelayCommand(on bool, s Snapshot, nowMs uint32) ([]Message, error) {
	s.Relay = on
	attr, err := buildAttributes(s)
	if err != nil {
		return nil, err
	}
	p.lastAttr = attr
	p.lastAttrMs = nowMs
	return []Message{p.relay(on), p.attributes(attr)}, nil
}

// ModeCommand acknowledges a mode change with its state and attributes.
func (p *Publisher) ModeCommand(s Snapshot, nowMs uint32) ([]Message, error) {
	attr, err := buildAttributes(s)
	if err != nil {
		return nil, err
	}
	p.lastAttr = attr
	p.lastAttrMs = nowMs
	return []Message{p.mode(s.Mode), p.attributes(attr)}, nil
}

func buildAttributes(s Snapshot) ([]byte, error) {
	return json.Marshal(attributes{
		SampleMs:      s.SampleMs,
		ConfirmNeeded: s.ConfirmNeeded,
		Mode:          s.Mode,
		S50:           s.S50,
		S100:          s.S100,
		S50Pending:    s.Pending50,
		S100Pending:   s.Pending100,
		Error:         s.Error,
		Probes:        s.Probes,
	})
}

func (p *Publisher) retained(topic, payload string) Message {
	return Message{Topic: topic, Payload: []byte(payload), Retain: true}
}

func (p *Publisher) level(v uint8) Message {
	return p.retained(p.topics.LevelState, strconv.Itoa(int(v)))
}

func (p *Publisher) errorState(on bool) Message {
	return p.retained(p.topics.ErrorState, onOff(on))
}

func (p *Publisher) relay(on bool) Message {
	return p.retained(p.topics.RelayState, onOff(on))
}

func (p *Publisher) mode(m string) Message {
	return p.retained(p.topics.ModeState, m)
}

func (p *Publisher) attributes(payload []byte) Message {
	return Message{Topic: p.topics.Attributes, Payload: payload, Retain: true}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
