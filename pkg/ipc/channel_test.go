package ipc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannels(t *testing.T) (core, plugin *Channel) {
	t.Helper()
	instanceID := fmt.Sprintf("test-%d-%s", len(t.Name()), t.Name())

	core = &Channel{}
	require.NoError(t, core.Initialize(RoleCore, instanceID, "malbox-test"))
	t.Cleanup(func() { _ = core.Close() })

	plugin = &Channel{}
	require.NoError(t, plugin.Initialize(RolePlugin, instanceID, "malbox-test"))
	t.Cleanup(func() { _ = plugin.Close() })

	return core, plugin
}

func taskPayload(t *testing.T, data string) *MessagePayload {
	t.Helper()
	return &MessagePayload{
		MessageType: MessageTypeTask,
		MessageID:   mustID(t, "m1"),
		SenderID:    mustID(t, "core"),
		RecipientID: mustID(t, "plugin"),
		HasTaskID:   true,
		TaskID:      mustID(t, "7"),
		Content: MessageContent{
			TaskDataSize: uint32(len(data)),
			TaskData:     mustMsg(t, data),
		},
	}
}

func TestChannelSendReceiveCoreToPlugin(t *testing.T) {
	core, plugin := newTestChannels(t)

	require.NoError(t, core.Send(taskPayload(t, "analyze this")))

	got, err := plugin.TryReceive(TopicTasks)
	require.NoError(t, err)
	assert.Equal(t, "analyze this", got.Content.TaskData.String())
}

func TestChannelSendReceivePluginToCore(t *testing.T) {
	core, plugin := newTestChannels(t)

	result := &MessagePayload{
		MessageType: MessageTypeResult,
		MessageID:   mustID(t, "m2"),
		SenderID:    mustID(t, "plugin"),
		RecipientID: mustID(t, "core"),
		Content: MessageContent{
			ResultPluginID: mustID(t, "plugin-a"),
			ResultSuccess:  true,
		},
	}
	require.NoError(t, plugin.Send(result))

	got, err := core.TryReceive(TopicResults)
	require.NoError(t, err)
	assert.True(t, got.Content.ResultSuccess)
}

func TestChannelTryReceiveEmptyRingReturnsErrNoMessage(t *testing.T) {
	_, plugin := newTestChannels(t)

	_, err := plugin.TryReceive(TopicTasks)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestChannelSendWrongDirectionIsInvalidMessage(t *testing.T) {
	core, _ := newTestChannels(t)

	result := &MessagePayload{MessageType: MessageTypeResult}
	err := core.Send(result)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestChannelReceiveWrongDirectionIsInvalidMessage(t *testing.T) {
	core, _ := newTestChannels(t)

	_, err := core.TryReceive(TopicTasks)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestChannelUnusedReturnsErrNotInitialized(t *testing.T) {
	var c Channel
	err := c.Send(taskPayload(t, "x"))
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = c.TryReceive(TopicTasks)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestChannelSendFailsWhenRingIsFull(t *testing.T) {
	core, _ := newTestChannels(t)

	var lastErr error
	for i := 0; i < defaultSlotCount+1; i++ {
		lastErr = core.Send(taskPayload(t, "x"))
	}
	assert.ErrorIs(t, lastErr, ErrSendFailed)
}

func TestChannelMessagesAreFIFO(t *testing.T) {
	core, plugin := newTestChannels(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, core.Send(taskPayload(t, fmt.Sprintf("task-%d", i))))
	}
	for i := 0; i < 5; i++ {
		got, err := plugin.TryReceive(TopicTasks)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("task-%d", i), got.Content.TaskData.String())
	}
}
