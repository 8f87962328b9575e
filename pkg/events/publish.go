package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes completion events to a set of watermill
// publishers. A publisher is subscribed with the topic it wants messages
// published on; every event handed to Publish is serialized once and
// distributed to all of them.
//
// The manager stamps each outgoing message with a sequence number in the
// order Publish handled it, so subscribers can reorder per-stream tokens if
// their transport does not preserve ordering.
type PublisherManager struct {
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mu             sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: make(map[string][]message.Publisher),
	}
}

func (pm *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.publishers[topic] = append(pm.publishers[topic], pub)
}

func (pm *PublisherManager) Publish(e Event) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", pm.sequenceNumber))
	msg.Metadata.Set("event_type", string(e.Type()))
	pm.sequenceNumber++

	for topic, pubs := range pm.publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
			}
		}
	}

	return nil
}

// PublishBlind publishes and only logs failures. Token fan-out must never
// stall or fail the completion that produced the token.
func (pm *PublisherManager) PublishBlind(e Event) {
	if err := pm.Publish(e); err != nil {
		log.Warn().Err(err).Msg("failed to publish event")
	}
}
