package events

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

func testMetadata() EventMetadata {
	return EventMetadata{
		NodeID:    conversation.NewNodeID(),
		ParentID:  conversation.NewNodeID(),
		SessionID: "session-1",
		Model:     "m",
	}
}

func TestPartialEventJSON(t *testing.T) {
	meta := testMetadata()
	e := NewPartialEvent(meta, "wor", "Hello wor")

	b, err := MarshalEvent(e)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "partial", decoded["type"])
	assert.Equal(t, "wor", decoded["delta"])
	assert.Equal(t, "Hello wor", decoded["completion"])

	metaMap := decoded["meta"].(map[string]interface{})
	assert.Equal(t, meta.NodeID.String(), metaMap["node_id"])
	assert.Equal(t, "session-1", metaMap["session_id"])
}

func TestErrorEventCarriesPartial(t *testing.T) {
	e := NewErrorEvent(testMetadata(), assert.AnError, "half an ans")
	assert.Equal(t, EventTypeError, e.Type())
	assert.Equal(t, "half an ans", e.Partial)
	assert.Contains(t, e.ErrorString, assert.AnError.Error())
}

func TestPublisherManagerSequencing(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() {
		_ = pubSub.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, "chat")
	require.NoError(t, err)

	pm := NewPublisherManager()
	pm.SubscribePublisher("chat", pubSub)

	meta := testMetadata()
	require.NoError(t, pm.Publish(NewStartEvent(meta)))
	require.NoError(t, pm.Publish(NewPartialEvent(meta, "a", "a")))
	require.NoError(t, pm.Publish(NewFinalEvent(meta, "a")))

	for i, wantType := range []string{"start", "partial", "final"} {
		select {
		case msg := <-messages:
			assert.Equal(t, wantType, msg.Metadata.Get("event_type"))
			assert.Equal(t, strconv.Itoa(i), msg.Metadata.Get("sequence_number"))
			msg.Ack()
		case <-ctx.Done():
			t.Fatal("timed out waiting for published event")
		}
	}
}
