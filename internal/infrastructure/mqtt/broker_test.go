package mqtt

import (
	"io"
	"log/slog"
	"net"
	"testing"

	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/m307-core/internal/infrastructure/config"
)

// startBroker runs an in-process broker on a free loopback port and returns
// a client config pointing at it. The broker stops when the test ends.
func startBroker(t *testing.T) config.MQTTConfig {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()

	server := mqttbroker.New(&mqttbroker.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("AddHook() error = %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "test", Address: addr.String()})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	t.Cleanup(func() {
		server.Close()
	})

	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     addr.Port,
			ClientID: "m307-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}
