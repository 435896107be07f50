package busline

import (
	"strconv"

	"github.com/google/uuid"
)

// Well-known header keys carried on every delivery.
// Headers travel with the message body through retry and error paths.
const (
	// HeaderMessageType carries the registered type name of the payload.
	HeaderMessageType = "busline.message-type"

	// HeaderCorrelationID carries the message correlation identifier.
	HeaderCorrelationID = "busline.correlation-id"

	// HeaderRetryCount carries the number of failed processing attempts.
	HeaderRetryCount = "busline.retry-count"

	// HeaderReplyTo carries the sender's reply address for request/reply.
	HeaderReplyTo = "busline.reply-to"

	// HeaderRequestToken carries the request correlation token. It is set
	// on outgoing requests and echoed back on replies.
	HeaderRequestToken = "busline.request-token"

	// HeaderReply marks a message as a reply to a locally-issued request.
	HeaderReply = "busline.reply"

	// HeaderSourceQueue carries the queue a dead-lettered message came from.
	HeaderSourceQueue = "busline.source-queue"

	// HeaderError carries a serialized description of the last processing
	// failure when a message lands on the error path.
	HeaderError = "busline.error"

	// HeaderErrorTime carries the RFC3339 timestamp of the last failure.
	HeaderErrorTime = "busline.error-time"
)

// Headers is the string key/value metadata attached to a delivery.
type Headers map[string]string

// Clone returns a shallow copy of the headers.
func (h Headers) Clone() Headers {
	if h == nil {
		return Headers{}
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// RetryCount returns the parsed retry counter, defaulting to zero for
// missing or malformed values.
func (h Headers) RetryCount() int {
	n, err := strconv.Atoi(h[HeaderRetryCount])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SetRetryCount stores the retry counter.
func (h Headers) SetRetryCount(n int) {
	h[HeaderRetryCount] = strconv.Itoa(n)
}

// IsReply reports whether the headers mark this delivery as a reply.
func (h Headers) IsReply() bool {
	return h[HeaderReply] == "true" && h[HeaderRequestToken] != ""
}

// Message is implemented by every message moving through the bus.
// Messages are immutable values; every message carries a correlation
// identifier used for saga correlation and deduplication.
type Message interface {
	// MessageType returns the registered type name for this message.
	MessageType() string

	// CorrelationID returns the message correlation identifier.
	CorrelationID() uuid.UUID
}

// BaseMessage is optionally implemented by messages that declare a base
// message type. Handlers and sagas registered against the base type also
// receive the derived message, exactly once each.
type BaseMessage interface {
	Message

	// BaseMessageType returns the type name of the declared base message.
	BaseMessageType() string
}

// MessageBase provides the required correlation identifier.
// Embed it in message structs to satisfy the Message interface's
// CorrelationID method; MessageType must be implemented per type.
type MessageBase struct {
	ID uuid.UUID `json:"correlationId"`
}

// NewMessageBase creates a MessageBase with a generated correlation ID.
func NewMessageBase() MessageBase {
	return MessageBase{ID: uuid.New()}
}

// WithCorrelationID creates a MessageBase with a caller-supplied ID.
func WithCorrelationID(id uuid.UUID) MessageBase {
	return MessageBase{ID: id}
}

// CorrelationID returns the message correlation identifier.
func (m MessageBase) CorrelationID() uuid.UUID {
	return m.ID
}

// Delivery is one raw inbound delivery handed to the bus by a transport.
type Delivery struct {
	// Body is the serialized message payload.
	Body []byte

	// TypeName is the registered message type, taken from headers.
	TypeName string

	// Headers is the delivery metadata.
	Headers Headers
}
