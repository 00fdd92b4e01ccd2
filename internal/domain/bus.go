package domain

// MessageBus routes inbound messages from channels to the ingestion router.
// Publish is fire-and-forget from the channel's perspective.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
