package onvif

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Relayer starts a TCP relay for a route. The relay runs until ctx ends.
type Relayer interface {
	Relay(ctx context.Context, route Route) error
}

// DeviceFailure records a device that could not be started
type DeviceFailure struct {
	Name string
	Err  error
}

// Orchestrator starts the configured virtual devices one after another,
// requests their relays and announces them through one discovery responder
type Orchestrator struct {
	Configs    []DeviceConfig
	DirectURLs bool
	StartDelay time.Duration
	Discovery  DiscoveryOptions
	Relay      Relayer     // nil disables relaying
	Resolve    ResolveFunc // defaults to ResolveMAC
	Logger     zerolog.Logger

	mu           sync.Mutex
	devices      []*VirtualDevice
	failures     []DeviceFailure
	routes       []Route
	responder    *DiscoveryResponder
	cancelRelays context.CancelFunc
}

// Run starts everything, blocks until ctx is done and shuts down
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return errors.Trace(err)
	}

	<-ctx.Done()
	return o.Stop()
}

// Start brings up the devices in configuration order. A device whose MAC
// does not resolve or whose listener cannot bind is reported and skipped.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, cfg := range o.Configs {
		if i > 0 && o.StartDelay > 0 {
			select {
			case <-time.After(o.StartDelay):
			case <-ctx.Done():
				o.stopDevices()
				return errors.Trace(ctx.Err())
			}
		}

		device, err := NewVirtualDevice(cfg, o.DirectURLs, o.Resolve, o.Logger)
		if err != nil {
			o.fail(cfg.Name, err)
			continue
		}
		if err := device.Start(); err != nil {
			o.fail(cfg.Name, err)
			continue
		}
		o.devices = append(o.devices, device)
	}

	if len(o.devices) == 0 {
		return errors.New("no virtual device could be started")
	}

	for _, device := range o.devices {
		o.routes = append(o.routes, device.Routes()...)
	}
	// relays live until Stop, or until ctx ends
	relayCtx, cancel := context.WithCancel(ctx)
	o.cancelRelays = cancel
	if o.Relay != nil {
		for _, route := range o.routes {
			if err := o.Relay.Relay(relayCtx, route); err != nil {
				o.Logger.Error().Err(err).
					Str("source", route.SourceHost).Int("source_port", route.SourcePort).
					Str("target", route.TargetHost).Int("target_port", route.TargetPort).
					Msg("Failed to start relay")
			}
		}
	}

	o.responder = NewDiscoveryResponder(o.Discovery, o.Logger)
	o.responder.Register(o.devices...)
	if err := o.responder.Start(); err != nil {
		o.stopRelays()
		o.stopDevices()
		o.responder = nil
		return errors.Trace(err)
	}

	o.Logger.Info().
		Int("started", len(o.devices)).
		Int("failed", len(o.failures)).
		Int("relays", len(o.routes)).
		Msg("Virtual devices running")
	return nil
}

func (o *Orchestrator) fail(name string, err error) {
	o.Logger.Error().Err(err).Str("device", name).Msg("Failed to start virtual device")
	o.failures = append(o.failures, DeviceFailure{Name: name, Err: err})
}

// Stop shuts down the discovery responder, the relays and all device
// listeners
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var firstErr error
	if o.responder != nil {
		firstErr = o.responder.Stop()
		o.responder = nil
	}
	o.stopRelays()
	if err := o.stopDevices(); err != nil && firstErr == nil {
		firstErr = err
	}
	return errors.Trace(firstErr)
}

func (o *Orchestrator) stopRelays() {
	if o.cancelRelays != nil {
		o.cancelRelays()
		o.cancelRelays = nil
	}
}

func (o *Orchestrator) stopDevices() error {
	var g errgroup.Group
	for _, device := range o.devices {
		g.Go(device.Stop)
	}
	err := g.Wait()
	o.devices = nil
	return err
}

// VirtualDevices returns the running devices in start order
func (o *Orchestrator) VirtualDevices() []*VirtualDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*VirtualDevice(nil), o.devices...)
}

// Failures returns the devices that could not be started
func (o *Orchestrator) Failures() []DeviceFailure {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]DeviceFailure(nil), o.failures...)
}

// Routes returns the relay routes requested for non-direct devices
func (o *Orchestrator) Routes() []Route {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Route(nil), o.routes...)
}

// Responder returns the discovery responder, nil before Start
func (o *Orchestrator) Responder() *DiscoveryResponder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.responder
}
