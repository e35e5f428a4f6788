package mqtt

import "fmt"

// Topics builds switchboard topic names under a configurable prefix.
//
//	topics := mqtt.NewTopics("switchboard")
//	topics.DeviceState("fan")
//	// Returns: "switchboard/device/fan/state"
type Topics struct {
	Prefix string
}

// NewTopics returns builders rooted at prefix. An empty prefix falls back to
// "switchboard".
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "switchboard"

// DeviceState returns the retained state topic for one device.
//
// Example: switchboard/device/lamp_one/state
func (t Topics) DeviceState(name string) string {
	return fmt.Sprintf("%s/device/%s/state", t.Prefix, name)
}

// AllDeviceStates matches every device state topic.
func (t Topics) AllDeviceStates() string {
	return t.Prefix + "/device/+/state"
}

// ControllerReport is where the household controller pushes its full report.
func (t Topics) ControllerReport() string {
	return t.Prefix + "/controller/report"
}

// SystemStatus carries online/offline status and the Last Will message.
func (t Topics) SystemStatus() string {
	return t.Prefix + "/system/status"
}

// AllTopics matches everything under the prefix.
func (t Topics) AllTopics() string {
	return t.Prefix + "/#"
}
