package connectors

const (
	TopicConnStatus       = "conn.status"
	TopicMediaStatus      = "media.status"
	TopicServerIdentified = "server.identified"
	TopicRegistryChanged  = "registry.changed"
	TopicServerDiscovered = "server.discovered"
	TopicRawFrameIn       = "raw.frame.in"
	TopicRawFrameOut      = "raw.frame.out"
)
