package bus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/nfrund/modlink/internal/envelope"
	"github.com/nfrund/modlink/internal/payload"
)

// Metadata keys used to carry envelope fields through watermill's message.
const (
	metaKeyTopic         = "topic"
	metaKeySender        = "sender"
	metaKeyTarget        = "target"
	metaKeyCorrelationID = "correlation_id"
	metaKeySequence      = "sequence"
	metaKeyCreatedAt     = "created_at"
)

// toMessage converts an envelope to a watermill message. The payload travels
// as JSON; addressing fields travel as metadata.
func toMessage(env envelope.Envelope) (*message.Message, error) {
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	wm := message.NewMessage(env.ID, data)
	wm.Metadata.Set(metaKeyTopic, env.Topic)
	wm.Metadata.Set(metaKeySender, env.Sender)
	wm.Metadata.Set(metaKeyTarget, env.Target)
	wm.Metadata.Set(metaKeyCorrelationID, env.CorrelationID)
	wm.Metadata.Set(metaKeySequence, strconv.FormatUint(env.Sequence, 10))
	wm.Metadata.Set(metaKeyCreatedAt, env.CreatedAt.Format(time.RFC3339Nano))
	return wm, nil
}

// fromMessage converts a watermill message back into an envelope.
func fromMessage(wm *message.Message) (envelope.Envelope, error) {
	var p payload.Value
	if err := json.Unmarshal(wm.Payload, &p); err != nil {
		return envelope.Envelope{}, fmt.Errorf("unmarshal payload: %w", err)
	}

	seq, err := strconv.ParseUint(wm.Metadata.Get(metaKeySequence), 10, 64)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("parse sequence: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, wm.Metadata.Get(metaKeyCreatedAt))
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("parse created_at: %w", err)
	}

	return envelope.Envelope{
		ID:            wm.UUID,
		Topic:         wm.Metadata.Get(metaKeyTopic),
		Sender:        wm.Metadata.Get(metaKeySender),
		Target:        wm.Metadata.Get(metaKeyTarget),
		CorrelationID: wm.Metadata.Get(metaKeyCorrelationID),
		Payload:       p,
		Sequence:      seq,
		CreatedAt:     createdAt,
	}, nil
}
