package transport

import (
	"context"

	"concierge/pkg/logging"
)

// Message is one inbound messaging event as delivered by the transport
// collaborator. From is the opaque conversation identifier (for the
// reference transport this is a phone-linked handle like
// "9665xxxxxxxx@c.us").
type Message struct {
	From     string
	Body     string
	FromMe   bool
	IsGroup  bool
	PushName string // sender display name, may be empty
	Number   string // bare phone number without the server suffix
}

// Chat names one open conversation on the transport side, used as a
// broadcast target.
type Chat struct {
	ID      string
	Name    string
	IsGroup bool
}

// Sender is the outbound capability of the transport collaborator. The
// messaging client itself (session auth, pairing, delivery) lives outside
// this process boundary.
type Sender interface {
	// SendReply delivers text to one conversation. Delivery is
	// best-effort; the transport owns retries, if any.
	SendReply(ctx context.Context, conversationID, text string) error

	// Chats lists open conversations, most recent first.
	Chats(ctx context.Context) ([]Chat, error)
}

// LogSender is a Sender that only logs outbound traffic. It stands in for
// the real messaging client in development and tests.
type LogSender struct {
	Logger logging.Logger
}

func (s *LogSender) SendReply(ctx context.Context, conversationID, text string) error {
	if s.Logger != nil {
		s.Logger.WithFields(logging.Fields{
			"conversation": conversationID,
			"length":       len(text),
		}).Info("Outbound reply")
	}
	return nil
}

func (s *LogSender) Chats(ctx context.Context) ([]Chat, error) {
	return nil, nil
}
