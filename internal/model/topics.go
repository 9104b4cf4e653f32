// internal/model/topics.go
package model

// Message bus topics shared with the MAVLink router and the linker
const (
	TopicLinkerInfo       = "ur-linker-info"
	TopicMavrouterActions = "ur-mavrouter-actions"
	TopicMavrouterResults = "ur-mavrouter-results"
)
