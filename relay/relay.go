// Package relay forwards TCP connections from a virtual device's proxy
// ports to the real camera
package relay

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	onvif "github.com/SridarDhandapani/onvif-server"
)

// DefaultDialTimeout bounds connecting to the target
const DefaultDialTimeout = 10 * time.Second

// Proxy is a byte relay. Each Relay call owns one listener.
type Proxy struct {
	DialTimeout time.Duration
	Logger      zerolog.Logger
}

// New creates a Proxy
func New(logger zerolog.Logger) *Proxy {
	return &Proxy{
		DialTimeout: DefaultDialTimeout,
		Logger:      logger.With().Str("component", "relay").Logger(),
	}
}

// Relay listens on the route's source and forwards every accepted
// connection to its target until ctx is done. The listener is bound
// before Relay returns.
func (p *Proxy) Relay(ctx context.Context, route onvif.Route) error {
	source := net.JoinHostPort(route.SourceHost, strconv.Itoa(route.SourcePort))
	target := net.JoinHostPort(route.TargetHost, strconv.Itoa(route.TargetPort))

	ln, err := net.Listen("tcp4", source)
	if err != nil {
		return errors.Annotatef(err, "failed to listen on %s", source)
	}

	context.AfterFunc(ctx, func() {
		ln.Close()
	})

	logger := p.Logger.With().Str("source", source).Str("target", target).Logger()
	logger.Info().Msg("Relay started")

	go p.serve(ctx, ln, target, logger)
	return nil
}

func (p *Proxy) serve(ctx context.Context, ln net.Listener, target string, logger zerolog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				logger.Debug().Msg("Relay stopped")
				return
			}
			logger.Warn().Err(err).Msg("Failed to accept connection")
			continue
		}

		go p.pipe(ctx, conn, target, logger)
	}
}

func (p *Proxy) pipe(ctx context.Context, client net.Conn, target string, logger zerolog.Logger) {
	defer client.Close()

	timeout := p.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	upstream, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Warn().Err(err).Str("client", client.RemoteAddr().String()).Msg("Failed to reach target")
		return
	}
	defer upstream.Close()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		client.Close()
		upstream.Close()
	})
	defer stop()

	g.Go(func() error {
		_, err := io.Copy(upstream, client)
		closeWrite(upstream)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(client, upstream)
		closeWrite(client)
		return err
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil && !stderrors.Is(err, net.ErrClosed) {
		logger.Debug().Err(err).Str("client", client.RemoteAddr().String()).Msg("Relay connection ended")
	}
}

// closeWrite half-closes TCP connections so the peer sees EOF while the
// other direction keeps flowing
func closeWrite(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
		return
	}
	conn.Close()
}
