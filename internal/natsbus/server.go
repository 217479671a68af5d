// Package natsbus publishes mission events over NATS, optionally starting
// an embedded server.
package natsbus

import (
	"fmt"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"missionforge/internal/config"
	"missionforge/internal/logging"
)

// Bus is an embedded NATS server.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

// New starts an embedded server. A StoreDir enables JetStream.
func New(cfg config.NATSConfig) (*Bus, error) {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}
	if cfg.StoreDir != "" {
		if err := os.MkdirAll(cfg.StoreDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats store dir: %w", err)
		}
		opts.JetStream = true
		opts.StoreDir = cfg.StoreDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	logging.Boot("Embedded NATS listening on %s", ns.ClientURL())
	return &Bus{server: ns, cfg: cfg}, nil
}

// ClientURL returns the URL clients connect to.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Close shuts the server down and waits for it.
func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
