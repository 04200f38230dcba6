package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

func sampleAlert() crawl.Alert {
	return crawl.Alert{
		ProjectID: "p1",
		SourceID:  "NASA-FIRMS",
		Status:    crawl.StatusFail,
		Detail:    "http 503",
		At:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSubjectAndBody(t *testing.T) {
	t.Parallel()

	alert := sampleAlert()
	require.Equal(t, "Crawl failure: NASA-FIRMS (p1)", Subject(alert))
	require.Contains(t, Body(alert), `status "fail"`)
	require.Contains(t, Body(alert), "http 503")
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	n := NewLogNotifier(zap.New(core))
	require.NoError(t, n.Notify(context.Background(), sampleAlert()))
	require.Equal(t, 1, logs.FilterMessage("Crawl failure: NASA-FIRMS (p1)").Len())
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	ok := NewRecorder()
	broken := NewRecorder()
	broken.FailWith(errors.New("smtp down"))

	err := Multi{broken, ok}.Notify(context.Background(), sampleAlert())
	require.ErrorContains(t, err, "smtp down")
	require.Len(t, ok.Alerts(), 1)
	require.Len(t, broken.Alerts(), 1)
}

func TestPubSubNotifierPublishes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	n, err := NewPubSub(ctx, "test-project", "crawl-alerts", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = n.client.CreateTopic(ctx, "crawl-alerts")
	require.NoError(t, err)

	require.NoError(t, n.Notify(ctx, sampleAlert()))
	require.NoError(t, n.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "p1", msgs[0].Attributes["project_id"])

	var payload Message
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	require.Equal(t, "Crawl failure: NASA-FIRMS (p1)", payload.Subject)
	require.Equal(t, "fail", payload.Status)
}

func TestNewPubSubValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPubSub(context.Background(), "", "topic")
	require.Error(t, err)
}
