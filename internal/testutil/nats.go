package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// RunServerOnPort creates a NATS server on the specified port. Use
// server.RANDOM_PORT to let packages run their tests in parallel.
func RunServerOnPort(port int) (*server.Server, error) {
	return server.NewServer(serverOptions(port))
}

func serverOptions(port int) *server.Options {
	return &server.Options{
		Host:           "127.0.0.1",
		Port:           port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	}
}

// SetupJetStream sets up a NATS server with JetStream enabled for testing
func SetupJetStream(t *testing.T) (nats.JetStreamContext, func()) {
	t.Helper()

	_, js, cleanup := StartJetStream(t)

	return js, cleanup
}

// StartJetStream starts a NATS server with JetStream enabled
func StartJetStream(t *testing.T) (*server.Server, nats.JetStreamContext, func()) {
	t.Helper()

	opts := serverOptions(server.RANDOM_PORT)
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	s, err := server.NewServer(opts)
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	// the account's JetStream may come up after the client listener
	require.Eventually(t, func() bool {
		_, err := js.AccountInfo()
		return err == nil
	}, 10*time.Second, 50*time.Millisecond, "JetStream not ready")

	cleanup := func() {
		nc.Close()
		s.Shutdown()
	}

	return s, js, cleanup
}

// WaitForStream waits for a stream to be created
func WaitForStream(t *testing.T, js nats.JetStreamContext, name string, timeout time.Duration) error {
	t.Helper()

	start := time.Now()
	for time.Since(start) < timeout {
		_, err := js.StreamInfo(name)
		if err == nil {
			return nil
		}
		if err != nats.ErrStreamNotFound {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for stream %s", name)
}

// Collect subscribes to subject on the stream and forwards every message to the
// returned channel until the test ends
func Collect(t *testing.T, js nats.JetStreamContext, subject string) <-chan *nats.Msg {
	t.Helper()

	msgs := make(chan *nats.Msg, 100)
	sub, err := js.Subscribe(subject, func(msg *nats.Msg) {
		msgs <- msg
	}, nats.DeliverNew())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	return msgs
}
