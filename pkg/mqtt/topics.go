// Package mqtt publishes the tank state to an MQTT broker with Home
// Assistant discovery and accepts pump and mode commands.
package mqtt

// Discovery prefix used by Home Assistant.
const discoveryPrefix = "homeassistant"

// Topics are the state and command topics under a base topic.
type Topics struct {
	Status     string
	LevelState string
	ErrorState string
	RelayState string
	RelaySet   string
	ModeState  string
	ModeSet    string
	Attributes string
	IP         string
}

// NewTopics derives the topic set from a base topic such as "home/tank".
func NewTopics(base string) Topics {
	return Topics{
		Status:     base + "/status",
		LevelState: base + "/level/state",
		ErrorState: base + "/error/state",
		RelayState: base + "/relay/state",
		RelaySet:   base + "/relay/set",
		ModeState:  base + "/mode/state",
		ModeSet:    base + "/mode/set",
		Attributes: base + "/attributes",
		IP:         base + "/ip",
	}
}

func discoveryTopic(component, device, object string) string {
	return discoveryPrefix + "/" + component + "/" + device + "/" + object + "/config"
}
