package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublisherPublishesJSON(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "exports")
	require.NoError(t, err)

	pub := New(topic)
	id, err := pub.Publish(ctx, "exports", map[string]any{"run_id": "r1", "documents": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "exports", msgs[0].Attributes["topic"])
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "r1", got["run_id"])
	assert.EqualValues(t, 3, got["documents"])
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()

	pub := &Publisher{topic: nil}
	_, err := pub.Publish(context.Background(), "t", map[string]any{})
	require.Error(t, err)

	srvless := &Publisher{topic: stubTopic{}}
	_, err = srvless.Publish(context.Background(), "t", func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal payload")
}

func TestDialRequiresIDs(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "", "topic")
	require.Error(t, err)
}

type stubTopic struct{}

func (stubTopic) Publish(context.Context, *pubsub.Message) *pubsub.PublishResult { return nil }

func (stubTopic) Stop() {}
