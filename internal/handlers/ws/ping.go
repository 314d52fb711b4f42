package ws

// MessagePing is a keepalive ping from client
type MessagePing struct {
}

func (msg *MessagePing) GetType() string {
	return "ping"
}

func (msg *MessagePing) Process(ctx *MessageContext) error {
	ctx.Session.Send(PongEvent{})
	return nil
}

// PongEvent answers a client ping on the same connection.
type PongEvent struct {
}

func (e PongEvent) GetType() string {
	return "pong"
}
