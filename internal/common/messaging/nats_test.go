package messaging

import (
	"testing"
	"time"

	"match-workers/internal/common/logger"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSClient_Publish(t *testing.T) {
	ns := runServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe(SubjectRunCompleted, received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	cfg := DefaultNATSConfig()
	cfg.URL = ns.ClientURL()
	client, err := NewNATSClient(cfg, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Publish(SubjectRunCompleted, []byte(`{"cycle":"2024-W03"}`)))
	require.NoError(t, client.Flush(time.Second))

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"cycle":"2024-W03"}`, string(msg.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestNewNATSClient_Unreachable(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	_, err := NewNATSClient(cfg, logger.NewNoOpLogger())
	assert.Error(t, err)
}
