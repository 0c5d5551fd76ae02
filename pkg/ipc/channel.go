package ipc

import (
	"fmt"
	"os"
	"path/filepath"
)

// topicForMessageType maps a message's own type to the topic it travels
// on. Registration and Heartbeat are plugin-origin control messages with no
// dedicated topic of their own, so they share Events, the other
// plugin-to-core stream.
func topicForMessageType(t MessageType) (Topic, error) {
	switch t {
	case MessageTypeTask:
		return TopicTasks, nil
	case MessageTypeCommand:
		return TopicCommands, nil
	case MessageTypeResult:
		return TopicResults, nil
	case MessageTypeEvent, MessageTypeRegistration, MessageTypeHeartbeat:
		return TopicEvents, nil
	default:
		return 0, fmt.Errorf("%w: unknown message type %d", ErrInvalidMessage, t)
	}
}

// Channel is one bidirectional IPC link between the core process and a
// single plugin instance. The zero value is not usable; call Initialize
// first.
type Channel struct {
	role          Role
	instanceID    string
	servicePrefix string
	dir           string
	segments      map[Topic]*segment
}

// Initialize opens (Role == RolePlugin) or creates (Role == RoleCore) the
// four topic segments backing a Channel. The core process always creates,
// since it owns the PluginInstance's Channel for its whole lifetime and is
// responsible for tearing it down; the plugin process only ever opens an
// already-created Channel, over the instance id and service prefix it was
// launched with.
func (c *Channel) Initialize(role Role, instanceID, servicePrefix string) error {
	if instanceID == "" {
		return fmt.Errorf("ipc: instance id must not be empty")
	}
	if servicePrefix == "" {
		servicePrefix = defaultServicePrefix
	}
	c.role = role
	c.instanceID = instanceID
	c.servicePrefix = servicePrefix
	c.dir = os.TempDir()
	c.segments = make(map[Topic]*segment, 4)

	topics := []Topic{TopicTasks, TopicCommands, TopicResults, TopicEvents}
	for _, topic := range topics {
		path := filepath.Join(c.dir, segmentName(servicePrefix, instanceID, topic))
		var (
			seg *segment
			err error
		)
		if role == RoleCore {
			seg, err = createSegment(path, defaultSlotCount)
		} else {
			seg, err = openSegment(path, defaultSlotCount)
		}
		if err != nil {
			c.closeSegments(topics)
			return fmt.Errorf("ipc: initialize topic %s: %w", topic, err)
		}
		c.segments[topic] = seg
	}
	return nil
}

func (c *Channel) closeSegments(topics []Topic) {
	for _, topic := range topics {
		if seg, ok := c.segments[topic]; ok {
			seg.close()
			delete(c.segments, topic)
		}
	}
}

// Send publishes payload on the topic implied by its own MessageType. It
// rejects a call from the Role that isn't that topic's publisher
// (InvalidMessageType) and a full ring (SendFailed); it never blocks.
func (c *Channel) Send(payload *MessagePayload) error {
	if c.segments == nil {
		return ErrNotInitialized
	}
	topic, err := topicForMessageType(payload.MessageType)
	if err != nil {
		return err
	}
	if topic.publisher() != c.role {
		return fmt.Errorf("%w: role %s does not publish on topic %s", ErrInvalidMessage, c.role, topic)
	}
	encoded, err := payload.Encode()
	if err != nil {
		return err
	}
	if err := c.segments[topic].push(encoded); err != nil {
		return err
	}
	return nil
}

// TryReceive returns the oldest unread message on topic without blocking.
// It returns ErrNoMessage when the ring is currently empty, which is the
// expected steady state of a polling receive loop, not a failure.
func (c *Channel) TryReceive(topic Topic) (*MessagePayload, error) {
	if c.segments == nil {
		return nil, ErrNotInitialized
	}
	if topic.publisher() == c.role {
		return nil, fmt.Errorf("%w: role %s does not receive on topic %s", ErrInvalidMessage, c.role, topic)
	}
	seg, ok := c.segments[topic]
	if !ok {
		return nil, fmt.Errorf("%w: unknown topic %s", ErrInvalidMessage, topic)
	}
	raw, ok := seg.tryPop()
	if !ok {
		return nil, ErrNoMessage
	}
	return Decode(raw)
}

// Close unmaps every topic segment. Only the core end's Close removes the
// backing files from disk (it created them); the plugin end's Close leaves
// them for the core to clean up once the instance has fully stopped.
func (c *Channel) Close() error {
	if c.segments == nil {
		return nil
	}
	var firstErr error
	for topic, seg := range c.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("ipc: close topic %s: %w", topic, err)
		}
	}
	c.segments = nil
	return firstErr
}
