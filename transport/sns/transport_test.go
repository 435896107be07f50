package sns

import (
	"context"
	"testing"

	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R-Suite/busline"
)

type fakeClient struct {
	inputs []*awssns.PublishInput
	err    error
}

func (c *fakeClient) Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.inputs = append(c.inputs, params)
	return &awssns.PublishOutput{}, nil
}

func TestTransport_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("maps headers to message attributes", func(t *testing.T) {
		client := &fakeClient{}
		tr := New(
			WithClient(client),
			WithTopicARNPrefix("arn:aws:sns:eu-west-1:123456789012:"))

		headers := busline.Headers{
			busline.HeaderMessageType:   "OrderPlaced",
			busline.HeaderCorrelationID: "id-1",
		}
		require.NoError(t, tr.Publish(ctx, "order-events", []byte(`{}`), headers))

		require.Len(t, client.inputs, 1)
		input := client.inputs[0]
		assert.Equal(t, "arn:aws:sns:eu-west-1:123456789012:order-events", *input.TopicArn)
		assert.Equal(t, "{}", *input.Message)
		assert.Equal(t, "OrderPlaced", *input.MessageAttributes[busline.HeaderMessageType].StringValue)
		assert.Equal(t, "String", *input.MessageAttributes[busline.HeaderMessageType].DataType)
	})

	t.Run("passes full ARNs through unchanged", func(t *testing.T) {
		client := &fakeClient{}
		tr := New(WithClient(client), WithTopicARNPrefix("arn:aws:sns:eu-west-1:123456789012:"))

		arn := "arn:aws:sns:us-east-1:999999999999:other"
		require.NoError(t, tr.Publish(ctx, arn, []byte(`{}`), nil))
		assert.Equal(t, arn, *client.inputs[0].TopicArn)
	})

	t.Run("sets the message group id for fifo topics", func(t *testing.T) {
		client := &fakeClient{}
		tr := New(WithClient(client), WithMessageGroupID("orders"))

		require.NoError(t, tr.Publish(ctx, "order-events.fifo", []byte(`{}`), nil))
		require.NotNil(t, client.inputs[0].MessageGroupId)
		assert.Equal(t, "orders", *client.inputs[0].MessageGroupId)
	})

	t.Run("fails without a client", func(t *testing.T) {
		tr := New()
		assert.Error(t, tr.Publish(ctx, "order-events", []byte(`{}`), nil))
	})

	t.Run("wraps publish failures", func(t *testing.T) {
		tr := New(WithClient(&fakeClient{err: assert.AnError}))
		err := tr.Publish(ctx, "order-events", []byte(`{}`), nil)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestTransport_SendDelegatesToPublish(t *testing.T) {
	client := &fakeClient{}
	tr := New(WithClient(client))

	require.NoError(t, tr.Send(context.Background(), "orders", []byte(`{}`), nil))
	assert.Len(t, client.inputs, 1)
}

func TestTransport_ConsumeNotSupported(t *testing.T) {
	tr := New(WithClient(&fakeClient{}))
	ctx := context.Background()

	_, err := tr.StartConsuming(ctx, "orders", nil)
	assert.ErrorIs(t, err, busline.ErrConsumeNotSupported)
	assert.ErrorIs(t, tr.DeclareRetryPath(ctx, "orders.retry", 0, "orders"), busline.ErrConsumeNotSupported)
	assert.ErrorIs(t, tr.DeclareErrorPath(ctx, "orders.error"), busline.ErrConsumeNotSupported)
	assert.NoError(t, tr.Close())
}
