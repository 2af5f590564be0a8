package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/config"
	"github.com/adshub/adshub-go/pkg/hub"
	"github.com/adshub/adshub-go/pkg/transport"
)

// shutdownTimeout bounds the hub shutdown of every command.
const shutdownTimeout = 10 * time.Second

// simulator returns an in-memory controller holding a zero value for every
// configured variable.
func simulator(cfg *config.Config) (*transport.Simulator, error) {
	sim := transport.NewSimulator()
	for _, v := range cfg.Variables {
		if err := define(sim, v.Address, v.DataType()); err != nil {
			return nil, fmt.Errorf("simulate %s: %w", v.Name, err)
		}
	}
	return sim, nil
}

// define adds address to a simulated controller unless it already holds
// it. Other transports are left alone.
func define(t transport.Transport, address string, typ codec.DataType) error {
	sim, ok := t.(*transport.Simulator)
	if !ok {
		return nil
	}
	if _, exists := sim.Value(address); exists {
		return nil
	}
	if !typ.Valid() {
		return fmt.Errorf("unsupported data type %s", typ)
	}
	sim.Define(address, make([]byte, codec.SizeOf(typ)))
	return nil
}

// session is an open hub with its transport.
type session struct {
	hub       *hub.Hub
	transport transport.Transport
	config    *config.Config
}

// openSession creates a hub for the configuration. mutate may adjust the
// hub configuration before the hub is built. The hub is not connected.
func (g *globals) openSession(logger *slog.Logger, mutate func(*hub.Config)) (*session, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	t, err := g.transport(cfg)
	if err != nil {
		return nil, err
	}

	hc := cfg.HubConfig(t)
	hc.Logger = logger
	if mutate != nil {
		mutate(&hc)
	}
	h, err := hub.New(hc)
	if err != nil {
		return nil, err
	}
	return &session{hub: h, transport: t, config: cfg}, nil
}

func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.hub.Shutdown(ctx)
}
