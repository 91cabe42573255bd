package mqtt

import (
	"encoding/json"
)

// Version is reported to Home Assistant as the device software version.
var Version = "dev"

// Device describes the controller in discovery payloads.
type Device struct {
	Name  string
	Model string
	MAC   string
}

type deviceObject struct {
	IDs          string     `json:"ids"`
	Name         string     `json:"name"`
	Model        string     `json:"mdl"`
	Manufacturer string     `json:"mf"`
	Software     string     `json:"sw"`
	Connections  [][]string `json:"cns,omitempty"`
}

// entity is a Home Assistant discovery config. Keys use the abbreviated
// discovery schema.
type entity struct {
	Name        string       `json:"name"`
	UniqueID    string       `json:"uniq_id"`
	StateTopic  string       `json:"stat_t"`
	CmdTopic    string       `json:"cmd_t,omitempty"`
	AvailTopic  string       `json:"avty_t"`
	Unit        string       `json:"unit_of_meas,omitempty"`
	StateClass  string       `json:"state_class,omitempty"`
	PayloadOn   string       `json:"pl_on,omitempty"`
	PayloadOff  string       `json:"pl_off,omitempty"`
	StateOn     string       `json:"stat_on,omitempty"`
	StateOff    string       `json:"stat_off,omitempty"`
	DeviceClass string       `json:"dev_cla,omitempty"`
	Options     []string     `json:"options,omitempty"`
	Category    string       `json:"ent_cat,omitempty"`
	Icon        string       `json:"icon"`
	Device      deviceObject `json:"dev"`
}

func (d Device) object() deviceObject {
	obj := deviceObject{
		IDs:          d.Name,
		Name:         d.Name,
		Model:        d.Model,
		Manufacturer: "DIY",
		Software:     Version,
	}
	if obj.Model == "" {
		obj.Model = "gotank"
	}
	if d.MAC != "" {
		obj.Connections = [][]string{{"mac", d.MAC}}
	}
	return obj
}

// discovery builds the retained discovery configs for all entities.
func discovery(dev Device, t Topics) ([]Message, error) {
	obj := dev.object()
	entities := []struct {
		topic string
		e     entity
	}{
		{
			topic: discoveryTopic("sensor", dev.Name, "level"),
			e: entity{
				Name:       dev.Name + " Level",
				UniqueID:   dev.Name + "-level",
				StateTopic: t.LevelState,
				Unit:       "%",
				StateClass: "measurement",
				Icon:       "mdi:water-percent",
			},
		},
		{
			topic: discoveryTopic("binary_sensor", dev.Name, "error"),
			e: entity{
				Name:        dev.Name + " Error",
				UniqueID:    dev.Name + "-error",
				StateTopic:  t.ErrorState,
				PayloadOn:   "ON",
				PayloadOff:  "OFF",
				DeviceClass: "problem",
				Icon:        "mdi:alert-circle",
			},
		},
		{
			topic: discoveryTopic("switch", dev.Name, "pump"),
			e: entity{
				Name:       dev.Name + " Pump",
				UniqueID:   dev.Name + "-pump",
				StateTopic: t.RelayState,
				CmdTopic:   t.RelaySet,
				PayloadOn:  "ON",
				PayloadOff: "OFF",
				StateOn:    "ON",
				StateOff:   "OFF",
				Icon:       "mdi:pump",
			},
		},
		{
			topic: discoveryTopic("select", dev.Name, "mode"),
			e: entity{
				Name:       dev.Name + " Mode",
				UniqueID:   dev.Name + "-mode",
				StateTopic: t.ModeState,
				CmdTopic:   t.ModeSet,
				Options:    []string{"auto", "external"},
				Icon:       "mdi:automation",
			},
		},
		{
			topic: discoveryTopic("sensor", dev.Name, "ip"),
			e: entity{
				Name:       dev.Name + " IP",
				UniqueID:   dev.Name + "-ip",
				StateTopic: t.IP,
				Category:   "diagnostic",
				Icon:       "mdi:ip-network",
			},
		},
	}

	msgs := make([]Message, 0, len(entities))
	for _, ent := range entities {
		ent.e.AvailTopic = t.Status
		ent.e.Device = obj
		payload, err := json.Marshal(ent.e)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{Topic: ent.topic, Payload: payload, Retain: true})
	}
	return msgs, nil
}
