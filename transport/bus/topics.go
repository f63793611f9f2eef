// Package bus implements the MQTT transport: one shared broker connection,
// demultiplexed by device identity and transaction id to the sessions that
// are waiting on it.
package bus

import "strings"

// Topic scheme. Many devices share one broker; the device identity in the
// topic and the tid inside every payload together route each message.
//
//	cmd/snsr/<device-id>/req         host -> node commands
//	cmd/snsr/<device-id>/res         node -> host responses
//	cmd/snsr/<device-id>/descriptor  retained identity record, cleared by will
//	cmd/snsr/broadcast               host -> all nodes (discovery identify)
//	cmd/snsr/log                     node free-form output (monitor mode)
const topicRoot = "cmd/snsr"

func RequestTopic(device string) string    { return topicRoot + "/" + device + "/req" }
func ResponseTopic(device string) string   { return topicRoot + "/" + device + "/res" }
func DescriptorTopic(device string) string { return topicRoot + "/" + device + "/descriptor" }

func ResponseWildcard() string   { return topicRoot + "/+/res" }
func DescriptorWildcard() string { return topicRoot + "/+/descriptor" }
func BroadcastTopic() string     { return topicRoot + "/broadcast" }
func LogTopic() string           { return topicRoot + "/log" }

// DeviceFromTopic extracts the device identity segment, or "" for group
// topics like broadcast and log.
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return ""
	}
	return parts[2]
}
