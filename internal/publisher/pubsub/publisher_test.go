package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/bgm-notion-sync/internal/telemetry"
)

func newTestTopic(t *testing.T) (*pubsub.Topic, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "sync-runs")
	require.NoError(t, err)
	return topic, srv
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()

	topic, srv := newTestTopic(t)
	pub := New(topic)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(context.Background(), map[string]int{"added": 2}, map[string]string{"status": "succeeded"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"added":2}`, string(msgs[0].Data))
	assert.Equal(t, "succeeded", msgs[0].Attributes["status"])
}

func TestPublishCarriesTraceContext(t *testing.T) {
	t.Parallel()
	telemetry.InitPropagation()

	topic, srv := newTestTopic(t)
	pub := New(topic)
	t.Cleanup(func() { _ = pub.Close() })

	ctx := telemetry.WithRunTrace(context.Background(), "0190a0a0-1234-7abc-8def-0123456789ab")
	_, err := pub.Publish(ctx, map[string]int{"added": 1}, map[string]string{"k": "v"})
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "v", msgs[0].Attributes["k"])
	assert.Equal(t, "00-0190a0a012347abc8def0123456789ab-8def0123456789ab-01", msgs[0].Attributes["traceparent"])
}

func TestPublishRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	topic, _ := newTestTopic(t)
	pub := New(topic)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), make(chan int), nil)
	require.Error(t, err)
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "x", nil)
	require.Error(t, err)
	require.NoError(t, pub.Close())
}

func TestOpenRequiresIDs(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "topic")
	require.Error(t, err)
}
