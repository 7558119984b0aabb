package profile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"velo/internal/broker"
)

const (
	ActionCreate             = "create"
	ActionDelete             = "delete"
	ActionSetDefault         = "set_default"
	ActionUpdateAssociations = "update_associations"
)

// ConfigChangeEvent is published when a tenant's profile configuration
// changes, so calculation caches and downstream consumers can react.
type ConfigChangeEvent struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	ProfileID string    `json:"profile_id,omitempty"`
	Action    string    `json:"action"`
	ChangedBy string    `json:"changed_by,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
	}
}

// PublishConfigEvent emits one change event. With no producer or topic
// configured this is a no-op.
func (p *ConfigEventProducer) PublishConfigEvent(ctx context.Context, tenant, profileID, action, changedBy string) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}

	event := ConfigChangeEvent{
		ID:        uuid.New().String(),
		Tenant:    tenant,
		ProfileID: profileID,
		Action:    action,
		ChangedBy: changedBy,
		Timestamp: time.Now(),
	}
	return p.producer.Publish(ctx, p.topic, tenant, event)
}
