package petstate

import "github.com/nfrund/modlink/internal/topics"

// Module topics for the pet state feature.

var (
	// TopicStateChanged carries the merged pet state after every applied
	// shared-entity update.
	TopicStateChanged = topics.Topic{
		Name:        "pet.state.changed",
		Module:      ModuleName,
		Description: "The pet's shared state changed and was synchronized",
		Pattern:     "pet.state.changed",
		Example:     `{"entity_id":"pet_001","version":1,"value":{"mood":"happy"},"writer":"petstate"}`,
	}

	// TopicActivity carries routed pet activity events for observers that
	// do not track full state.
	TopicActivity = topics.Topic{
		Name:        "pet.activity",
		Module:      ModuleName,
		Description: "High-level pet activity notifications routed from domain events",
		Pattern:     "pet.activity",
		Example:     `{"mood":"happy"}`,
	}
)

// RegisterTopics registers all pet state topics with the topic registry.
func RegisterTopics() error {
	for _, t := range []topics.Topic{TopicStateChanged, TopicActivity} {
		if err := topics.Register(t); err != nil {
			return err
		}
	}
	return nil
}
