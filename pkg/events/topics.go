package events

const (
	TopicFlowInstalled     = "flowpath:events:flow:installed"
	TopicFlowErased        = "flowpath:events:flow:erased"
	TopicPoolExhausted     = "flowpath:events:pool:exhausted"
	TopicLinkStateChanged  = "flowpath:events:port:link"
	TopicApplicationLoaded = "flowpath:events:app:loaded"
)
