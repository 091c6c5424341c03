package onvif

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// VirtualDevice is one emulated ONVIF camera: an identity, its device and
// media services, and the HTTP listener serving them
type VirtualDevice struct {
	Identity DeviceIdentity
	Device   *DeviceService
	Media    *MediaService

	target     TargetEndpoint
	directURLs bool
	logger     zerolog.Logger

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// NewVirtualDevice resolves the device's IP from its MAC address and builds
// its services. A MAC without a matching interface is a NotFound error.
func NewVirtualDevice(cfg DeviceConfig, directURLs bool, resolve ResolveFunc, logger zerolog.Logger) (*VirtualDevice, error) {
	if resolve == nil {
		resolve = ResolveMAC
	}

	ip, err := resolve(cfg.MAC)
	if err != nil {
		return nil, errors.Annotatef(err, "device %q", cfg.Name)
	}

	identity := DeviceIdentity{
		MAC:               cfg.MAC,
		HostIP:            ip,
		UUID:              cfg.UUID,
		Name:              cfg.Name,
		ServerPort:        cfg.ServerPort,
		RTSPProxyPort:     cfg.RTSPProxyPort,
		SnapshotProxyPort: cfg.SnapshotProxyPort,
	}

	media := NewMediaService(identity, cfg.High, cfg.Low, cfg.Target, directURLs)

	return &VirtualDevice{
		Identity:   identity,
		Device:     NewDeviceService(identity, len(media.profiles)),
		Media:      media,
		target:     cfg.Target,
		directURLs: directURLs,
		logger: logger.With().
			Str("device", cfg.Name).
			Str("ip", ip).
			Logger(),
	}, nil
}

// Handler returns the HTTP handler serving the SOAP endpoints
func (d *VirtualDevice) Handler() http.Handler {
	return newRouter(d.Device, d.Media, d.logger)
}

// XAddr is the device service address announced through discovery
func (d *VirtualDevice) XAddr() string {
	return d.Identity.serviceURL(DeviceServicePath)
}

// Start binds the SOAP listener and serves it in the background. The bind
// happens before Start returns, errors while serving are only logged.
func (d *VirtualDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.server != nil {
		return errors.AlreadyExistsf("listener of device %q", d.Identity.Name)
	}

	addr := net.JoinHostPort(d.Identity.HostIP, strconv.Itoa(d.Identity.ServerPort))
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return errors.Annotatef(err, "failed to listen on %s", addr)
	}

	server := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	d.server = server
	d.addr = ln.Addr()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("SOAP listener failed")
		}
	}()

	d.logger.Info().Str("xaddr", d.XAddr()).Msg("Virtual device started")
	return nil
}

// Addr returns the bound listener address, nil before Start
func (d *VirtualDevice) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Stop closes the SOAP listener
func (d *VirtualDevice) Stop() error {
	d.mu.Lock()
	server := d.server
	d.server = nil
	d.mu.Unlock()

	if server == nil {
		return nil
	}
	return errors.Trace(server.Close())
}

// Routes lists the relays this device needs. Devices handing out direct
// URLs need none.
func (d *VirtualDevice) Routes() []Route {
	if d.directURLs {
		return nil
	}

	routes := []Route{{
		SourceHost: d.Identity.HostIP,
		SourcePort: d.Identity.RTSPProxyPort,
		TargetHost: d.target.Hostname,
		TargetPort: d.target.RTSPPort,
	}}
	if d.Identity.SnapshotProxyPort > 0 && d.target.SnapshotPort > 0 {
		routes = append(routes, Route{
			SourceHost: d.Identity.HostIP,
			SourcePort: d.Identity.SnapshotProxyPort,
			TargetHost: d.target.Hostname,
			TargetPort: d.target.SnapshotPort,
		})
	}
	return routes
}
