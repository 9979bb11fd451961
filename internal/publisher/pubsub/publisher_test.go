package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

// newTestTopic spins up an in-memory Pub/Sub server and returns a topic
// handle connected to it.
func newTestTopic(t *testing.T) (*pubsub.Topic, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(context.Background(), "job-completions")
	require.NoError(t, err)
	return topic, srv
}

func TestPublishDeliversEvent(t *testing.T) {
	topic, srv := newTestTopic(t)
	pub := New(topic)
	defer func() { require.NoError(t, pub.Close()) }()

	event := crawler.CompletionEvent{
		JobID:       "job-1",
		Status:      crawler.JobStatusCompleted,
		OutputURI:   "gs://job-artifacts/results/scraped_leads_job-1.xlsx",
		TotalRows:   12,
		TotalEmails: 7,
	}
	require.NoError(t, pub.Publish(context.Background(), event))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)

	var got crawler.CompletionEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, event, got)
	require.Equal(t, "job-1", msgs[0].Attributes["job_id"])
	require.Equal(t, "completed", msgs[0].Attributes["status"])
}

func TestPublishWithoutTopicFails(t *testing.T) {
	pub := New(nil)

	err := pub.Publish(context.Background(), crawler.CompletionEvent{JobID: "job-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not configured")
}

func TestCloseStopsPublishing(t *testing.T) {
	topic, _ := newTestTopic(t)
	pub := New(topic)

	require.NoError(t, pub.Close())
}
