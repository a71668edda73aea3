package messaging

import (
	"fmt"
	"strconv"
	"strings"
)

// Config describes the broker connection and the machine topic protocol.
// Topics are written MQTT style ("fablab/machines/+") since that is what the
// machines publish on; they are translated to AMQP routing keys the way the
// broker's MQTT bridge does.
type Config struct {
	URL      string
	Exchange string
	// MachineTopic must end in a single-level wildcard that stands for the
	// machine id.
	MachineTopic string
	// ReplyTopic is the base topic decisions are published under; the
	// machine id is appended as the last level.
	ReplyTopic     string
	ConnectMessage string
	AliveMessage   string
}

// DefaultConfig returns the broker defaults without a URL.
func DefaultConfig() Config {
	return Config{
		Exchange:       "amq.topic",
		MachineTopic:   "fablab/machines/+",
		ReplyTopic:     "fablab/authorization",
		ConnectMessage: "connect",
		AliveMessage:   "alive",
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.URL) == "" {
		problems = append(problems, "url is required")
	}
	if strings.TrimSpace(c.Exchange) == "" {
		problems = append(problems, "exchange is required")
	}
	if !strings.HasSuffix(c.MachineTopic, "/+") {
		problems = append(problems, fmt.Sprintf("machine topic %q must end in /+", c.MachineTopic))
	}
	if strings.ContainsAny(c.ReplyTopic, "+#") || strings.TrimSpace(c.ReplyTopic) == "" {
		problems = append(problems, fmt.Sprintf("reply topic %q must be a plain topic", c.ReplyTopic))
	}
	if c.ConnectMessage == "" || c.AliveMessage == "" {
		problems = append(problems, "connect and alive messages are required")
	}
	if c.ConnectMessage != "" && c.ConnectMessage == c.AliveMessage {
		problems = append(problems, "connect and alive messages must differ")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid messaging configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RoutingKey converts an MQTT topic into an AMQP topic-exchange key:
// levels are dot separated, "+" becomes "*" and "#" stays.
func RoutingKey(topic string) string {
	levels := strings.Split(strings.Trim(topic, "/"), "/")
	for i, level := range levels {
		if level == "+" {
			levels[i] = "*"
		}
	}
	return strings.Join(levels, ".")
}

// machineTopic matches routing keys of the machine topic and extracts the id.
type machineTopic struct {
	prefix string
}

func newMachineTopic(topic string) machineTopic {
	key := RoutingKey(topic)
	return machineTopic{prefix: strings.TrimSuffix(key, "*")}
}

// MachineID returns the machine id carried by the last level of key. Keys
// outside the machine topic or with a non-numeric last level are rejected.
func (t machineTopic) MachineID(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, t.prefix)
	if !ok || rest == "" || strings.Contains(rest, ".") {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// replyKey is the routing key a decision for machineID is published under.
func replyKey(replyTopic string, machineID int64) string {
	return RoutingKey(replyTopic) + "." + strconv.FormatInt(machineID, 10)
}
