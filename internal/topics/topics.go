// Package topics declares the reserved framework topics and a registry of
// topic descriptors that modules use to document the channels they publish
// and subscribe on.
package topics

// Reserved module ids used as envelope senders by the framework services.
const (
	CoordinatorModule = "coordinator"
	SyncModule        = "syncmgr"
)

// Reserved framework topics. The coordinator publishes lifecycle events on
// these so that no module has to implement every lifecycle hook itself.
const (
	ModuleRegistered   = "module.lifecycle.registered"
	ModuleDeregistered = "module.lifecycle.deregistered"
	SyncRejected       = "sync.update.rejected"
)

// ReplyPattern matches every reply topic; the coordinator subscribes to it
// once to correlate responses.
const ReplyPattern = "module.reply.*"

// Request returns the request topic for a module.
func Request(moduleID string) string {
	return "module.request." + moduleID
}

// Reply returns the reply topic for a module.
func Reply(moduleID string) string {
	return "module.reply." + moduleID
}

// EntityChanged returns the default change-notification topic for a shared
// entity. Entities registered with an explicit binding publish there instead.
func EntityChanged(entityID string) string {
	return "entity.changed." + entityID
}

// Framework returns descriptors for the reserved framework topics, for
// registration with the default registry at startup.
func Framework() []Topic {
	return []Topic{
		{
			Name:        ModuleRegistered,
			Description: "A module registered with the coordinator",
			Pattern:     ModuleRegistered,
			Example:     `{"module":"petstate","registered_at":"2024-01-01T00:00:00Z"}`,
		},
		{
			Name:        ModuleDeregistered,
			Description: "A module deregistered from the coordinator",
			Pattern:     ModuleDeregistered,
			Example:     `{"module":"petstate"}`,
		},
		{
			Name:        SyncRejected,
			Description: "A proposed shared-state update was rejected by conflict resolution",
			Pattern:     SyncRejected,
			Example:     `{"entity_id":"pet_001","writer":"petstate","reason":"incompatible value kinds"}`,
		},
		{
			Name:        "module.request",
			Description: "Correlation-tagged request to a specific module",
			Pattern:     "module.request.*",
			Example:     Request("petstate"),
		},
		{
			Name:        "module.reply",
			Description: "Correlation-tagged reply to a requesting module",
			Pattern:     ReplyPattern,
			Example:     Reply("dashboard"),
		},
	}
}
