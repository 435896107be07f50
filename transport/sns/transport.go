// Package sns provides a publish-only AWS SNS transport. Fan-out to
// SQS queues happens through SNS subscriptions; consuming is out of
// scope for this transport.
package sns

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/R-Suite/busline"
)

// Ensure interface compliance at compile time
var _ busline.Transport = (*Transport)(nil)

// Client defines the subset of the SNS API used by the transport.
type Client interface {
	Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
}

// Option configures a Transport.
type Option func(*Transport)

// WithClient sets the SNS client.
func WithClient(client Client) Option {
	return func(t *Transport) {
		t.client = client
	}
}

// WithTopicARNPrefix sets the ARN prefix prepended to bare topic names,
// e.g. "arn:aws:sns:eu-west-1:123456789012:".
func WithTopicARNPrefix(prefix string) Option {
	return func(t *Transport) {
		t.arnPrefix = prefix
	}
}

// WithMessageGroupID sets the message group ID for FIFO topics.
func WithMessageGroupID(groupID string) Option {
	return func(t *Transport) {
		t.messageGroupID = groupID
	}
}

// Transport publishes messages to SNS topics. Destinations already in
// ARN form are used as-is; bare names get the configured prefix.
type Transport struct {
	client         Client
	arnPrefix      string
	messageGroupID string
}

// New creates a new SNS Transport.
func New(opts ...Option) *Transport {
	t := &Transport{}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Publish sends a message to an SNS topic with headers mapped to
// message attributes.
func (t *Transport) Publish(ctx context.Context, topic string, body []byte, headers busline.Headers) error {
	if t.client == nil {
		return fmt.Errorf("busline/sns: client not configured")
	}

	arn := t.topicARN(topic)
	input := &awssns.PublishInput{
		TopicArn: &arn,
		Message:  stringPtr(string(body)),
	}

	if len(headers) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(headers))
		for k, v := range headers {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    stringPtr("String"),
				StringValue: stringPtr(v),
			}
		}
	}

	if t.messageGroupID != "" {
		input.MessageGroupId = &t.messageGroupID
	}

	if _, err := t.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("busline/sns: failed to publish to %s: %w", arn, err)
	}
	return nil
}

// Send publishes to the destination topic; point-to-point routing is a
// subscription-filter concern on the SNS side.
func (t *Transport) Send(ctx context.Context, destination string, body []byte, headers busline.Headers) error {
	return t.Publish(ctx, destination, body, headers)
}

// StartConsuming is not supported; pair this transport with a consuming
// one for inbound traffic.
func (t *Transport) StartConsuming(ctx context.Context, queue string, fn func(ctx context.Context, d busline.Delivery) error) (busline.Subscription, error) {
	return nil, fmt.Errorf("busline/sns: %w", busline.ErrConsumeNotSupported)
}

// DeclareRetryPath is unsupported for a publish-only transport.
func (t *Transport) DeclareRetryPath(ctx context.Context, name string, delay time.Duration, target string) error {
	return fmt.Errorf("busline/sns: %w", busline.ErrConsumeNotSupported)
}

// DeclareErrorPath is unsupported for a publish-only transport.
func (t *Transport) DeclareErrorPath(ctx context.Context, name string) error {
	return fmt.Errorf("busline/sns: %w", busline.ErrConsumeNotSupported)
}

// Close releases no resources; the client is owned by the caller.
func (t *Transport) Close() error {
	return nil
}

func (t *Transport) topicARN(topic string) string {
	if strings.HasPrefix(topic, "arn:") {
		return topic
	}
	return t.arnPrefix + topic
}

func stringPtr(s string) *string {
	return &s
}
