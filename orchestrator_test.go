package onvif

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelayer struct {
	mu       sync.Mutex
	routes   []Route
	contexts []context.Context
}

func (f *fakeRelayer) Relay(ctx context.Context, route Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route)
	f.contexts = append(f.contexts, ctx)
	return nil
}

func (f *fakeRelayer) allDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ctx := range f.contexts {
		if ctx.Err() == nil {
			return false
		}
	}
	return len(f.contexts) > 0
}

// timedResolver resolves every MAC to loopback except the missing ones and
// remembers when each device was resolved
type timedResolver struct {
	mu      sync.Mutex
	missing map[string]bool
	calls   []time.Time
}

func (r *timedResolver) resolve(mac string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, time.Now())
	if r.missing[mac] {
		return "", errors.NotFoundf("IPv4 interface with MAC %s", mac)
	}
	return "127.0.0.1", nil
}

func orchestratorConfigs() []DeviceConfig {
	front := testConfig("Front Door", uuidA)
	garage := testConfig("Garage", uuidB)
	garage.MAC = "02:00:00:00:00:02"
	garage.Target.SnapshotPort = 0
	yard := testConfig("Yard", uuidC)
	yard.MAC = "02:00:00:00:00:03"
	return []DeviceConfig{front, garage, yard}
}

func newTestOrchestrator(configs []DeviceConfig, resolver *timedResolver, relay Relayer) *Orchestrator {
	return &Orchestrator{
		Configs:   configs,
		Discovery: DiscoveryOptions{ListenAddr: "127.0.0.1:0"},
		Relay:     relay,
		Resolve:   resolver.resolve,
		Logger:    nopLogger(),
	}
}

func TestOrchestratorStartsDevicesAndRelays(t *testing.T) {
	relay := &fakeRelayer{}
	o := newTestOrchestrator(orchestratorConfigs(), &timedResolver{}, relay)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	devices := o.VirtualDevices()
	require.Len(t, devices, 3)
	assert.Equal(t, "Front Door", devices[0].Identity.Name)
	assert.Equal(t, "Yard", devices[2].Identity.Name)
	assert.Empty(t, o.Failures())

	// garage has no snapshot port on the target
	assert.Len(t, relay.routes, 5)
	assert.Equal(t, o.Routes(), relay.routes)
	assert.Equal(t, Route{SourceHost: "127.0.0.1", SourcePort: 8554, TargetHost: "camera.local", TargetPort: 554}, relay.routes[0])
	assert.Equal(t, Route{SourceHost: "127.0.0.1", SourcePort: 8580, TargetHost: "camera.local", TargetPort: 80}, relay.routes[1])

	require.NotNil(t, o.Responder())
	assert.Equal(t, StateListening, o.Responder().State())
	assert.Len(t, o.Responder().registered(), 3)
}

func TestOrchestratorServesSOAP(t *testing.T) {
	o := newTestOrchestrator(orchestratorConfigs()[:1], &timedResolver{}, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	addr := o.VirtualDevices()[0].Addr()
	require.NotNil(t, addr)

	request := `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<s:Body><tds:GetDeviceInformation/></s:Body>
	</s:Envelope>`
	resp, err := http.Post("http://"+addr.String()+DeviceServicePath, soapContentType, strings.NewReader(request))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOrchestratorSkipsUnresolvedDevice(t *testing.T) {
	resolver := &timedResolver{missing: map[string]bool{"02:00:00:00:00:02": true}}
	o := newTestOrchestrator(orchestratorConfigs(), resolver, nil)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	devices := o.VirtualDevices()
	require.Len(t, devices, 2)
	assert.Equal(t, "Front Door", devices[0].Identity.Name)
	assert.Equal(t, "Yard", devices[1].Identity.Name)

	failures := o.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "Garage", failures[0].Name)
	assert.True(t, errors.IsNotFound(errors.Cause(failures[0].Err)))

	assert.Len(t, o.Responder().registered(), 2)
}

func TestOrchestratorDirectURLsNeedNoRelay(t *testing.T) {
	relay := &fakeRelayer{}
	o := newTestOrchestrator(orchestratorConfigs(), &timedResolver{}, relay)
	o.DirectURLs = true

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	assert.Empty(t, o.Routes())
	assert.Empty(t, relay.routes)

	uri := o.VirtualDevices()[0].Media.GetStreamUri(MainStreamToken)
	assert.Equal(t, "rtsp://camera.local:554/ch0", uri.URI)
}

func TestOrchestratorStartDelay(t *testing.T) {
	resolver := &timedResolver{}
	o := newTestOrchestrator(orchestratorConfigs(), resolver, nil)
	o.StartDelay = 50 * time.Millisecond

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	require.Len(t, resolver.calls, 3)
	for i := 1; i < len(resolver.calls); i++ {
		assert.GreaterOrEqual(t, resolver.calls[i].Sub(resolver.calls[i-1]), 50*time.Millisecond)
	}
}

func TestOrchestratorStartCanceled(t *testing.T) {
	o := newTestOrchestrator(orchestratorConfigs(), &timedResolver{}, nil)
	o.StartDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.Start(ctx)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Empty(t, o.VirtualDevices())
}

func TestOrchestratorNoDevices(t *testing.T) {
	resolver := &timedResolver{missing: map[string]bool{"02:00:00:00:00:01": true}}
	o := newTestOrchestrator(orchestratorConfigs()[:1], resolver, nil)

	require.Error(t, o.Start(context.Background()))
	assert.Nil(t, o.Responder())
}

func TestOrchestratorStop(t *testing.T) {
	o := newTestOrchestrator(orchestratorConfigs()[:2], &timedResolver{}, nil)
	require.NoError(t, o.Start(context.Background()))

	devices := o.VirtualDevices()
	responder := o.Responder()

	require.NoError(t, o.Stop())
	assert.Equal(t, StateStopped, responder.State())
	assert.Empty(t, o.VirtualDevices())

	for _, device := range devices {
		_, err := http.Post("http://"+device.Addr().String()+DeviceServicePath, soapContentType, strings.NewReader("<x/>"))
		assert.Error(t, err)
	}
}

func TestOrchestratorStopEndsRelays(t *testing.T) {
	relay := &fakeRelayer{}
	o := newTestOrchestrator(orchestratorConfigs()[:1], &timedResolver{}, relay)

	require.NoError(t, o.Start(context.Background()))
	require.Len(t, relay.contexts, 2)
	assert.False(t, relay.allDone())

	require.NoError(t, o.Stop())
	assert.True(t, relay.allDone())
}

func TestOrchestratorDiscoveryFailureEndsRelays(t *testing.T) {
	taken, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer taken.Close()

	relay := &fakeRelayer{}
	o := newTestOrchestrator(orchestratorConfigs()[:1], &timedResolver{}, relay)
	o.Discovery.ListenAddr = taken.LocalAddr().String()

	require.Error(t, o.Start(context.Background()))
	assert.Nil(t, o.Responder())
	assert.Empty(t, o.VirtualDevices())
	assert.True(t, relay.allDone())
}

func TestOrchestratorRun(t *testing.T) {
	o := newTestOrchestrator(orchestratorConfigs()[:1], &timedResolver{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.Responder() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
