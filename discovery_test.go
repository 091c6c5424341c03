package onvif

import (
	"context"
	"encoding/xml"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"
)

const (
	uuidA = "1714a629-ebe5-4bb8-a430-c18ffd8fa5f6"
	uuidB = "2f9bb1a0-52c4-4b5e-9d37-0c2b8e7a9d11"
	uuidC = "3c4d5e6f-7a8b-4c9d-8e0f-1a2b3c4d5e6f"
)

// recordingWriter captures datagrams instead of sending them
type recordingWriter struct {
	mu       sync.Mutex
	messages [][]byte
}

func (w *recordingWriter) WriteToUDP(b []byte, _ *net.UDPAddr) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, append([]byte(nil), b...))
	return len(b), nil
}

func (w *recordingWriter) envelopes(t *testing.T) []envelope {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []envelope
	for _, msg := range w.messages {
		var env envelope
		require.NoError(t, xml.Unmarshal(msg, &env))
		out = append(out, env)
	}
	return out
}

// flakyWriter fails the write with the given index and records the rest
type flakyWriter struct {
	recordingWriter
	calls  int
	failAt int
}

func (w *flakyWriter) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	w.calls++
	if w.calls-1 == w.failAt {
		return 0, errors.New("network is unreachable")
	}
	return w.recordingWriter.WriteToUDP(b, addr)
}

func newTestResponder(t *testing.T, uuids ...string) *DiscoveryResponder {
	t.Helper()
	responder := NewDiscoveryResponder(DiscoveryOptions{ListenAddr: "127.0.0.1:0"}, nopLogger())
	for i, id := range uuids {
		responder.Register(newTestDevice(t, "Camera "+string(rune('A'+i)), id))
	}
	return responder
}

var testSender = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

func TestHandleDatagramPerDeviceSequence(t *testing.T) {
	responder := newTestResponder(t, uuidA, uuidB, uuidC)
	writer := &recordingWriter{}

	responder.handleDatagram(buildProbe("uuid:probe-1", ""), testSender, writer)

	envs := writer.envelopes(t)
	require.Len(t, envs, 3)
	for i, want := range []string{uuidA, uuidB, uuidC} {
		match := envs[i].Body.ProbeMatches.ProbeMatch
		require.Len(t, match, 1)
		assert.Equal(t, "urn:uuid:"+want, match[0].EndpointReference.Address)
		assert.Equal(t, "dn:NetworkVideoTransmitter", match[0].Types)
		assert.Equal(t, "uuid:probe-1", envs[i].Header.RelatesTo)
		assert.Equal(t, uint64(0), envs[i].Header.AppSequence.MessageNumber)
		assert.Equal(t, DiscoveryInstanceID, envs[i].Header.AppSequence.InstanceId)
	}

	writer.messages = nil
	responder.handleDatagram(buildProbe("uuid:probe-2", ""), testSender, writer)

	envs = writer.envelopes(t)
	require.Len(t, envs, 3)
	for _, env := range envs {
		assert.Equal(t, uint64(1), env.Header.AppSequence.MessageNumber)
	}
}

func TestHandleDatagramTypeFilter(t *testing.T) {
	responder := newTestResponder(t, uuidA, uuidB)
	writer := &recordingWriter{}

	responder.handleDatagram(buildProbe("uuid:other", "tns:SomeOtherDevice"), testSender, writer)
	assert.Empty(t, writer.messages)

	responder.handleDatagram(buildProbe("uuid:nvt", "dn:NetworkVideoTransmitter"), testSender, writer)
	envs := writer.envelopes(t)
	require.Len(t, envs, 2)

	// the ignored probe did not advance the counters
	for _, env := range envs {
		assert.Equal(t, uint64(0), env.Header.AppSequence.MessageNumber)
	}
}

func TestHandleDatagramDropsMalformed(t *testing.T) {
	responder := newTestResponder(t, uuidA)
	writer := &recordingWriter{}

	for _, data := range []string{
		"",
		"garbage",
		`<Envelope><Body><Hello/></Body></Envelope>`,
		`<Envelope><Header/></Envelope>`,
	} {
		responder.handleDatagram([]byte(data), testSender, writer)
	}
	assert.Empty(t, writer.messages)

	responder.handleDatagram(buildProbe("uuid:after", ""), testSender, writer)
	envs := writer.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, uint64(0), envs[0].Header.AppSequence.MessageNumber)
}

func TestHandleDatagramFailedSendKeepsSequence(t *testing.T) {
	responder := newTestResponder(t, uuidA, uuidB, uuidC)
	writer := &flakyWriter{failAt: 1}

	responder.handleDatagram(buildProbe("uuid:probe-1", ""), testSender, writer)
	require.Len(t, writer.envelopes(t), 2)

	writer.messages = nil
	responder.handleDatagram(buildProbe("uuid:probe-2", ""), testSender, writer)

	envs := writer.envelopes(t)
	require.Len(t, envs, 3)
	numbers := make(map[string]uint64)
	for _, env := range envs {
		numbers[env.Body.ProbeMatches.ProbeMatch[0].EndpointReference.Address] = env.Header.AppSequence.MessageNumber
	}
	assert.Equal(t, map[string]uint64{
		"urn:uuid:" + uuidA: 1,
		"urn:uuid:" + uuidB: 0, // its first message never went out
		"urn:uuid:" + uuidC: 1,
	}, numbers)
}

func TestParseProbeTextWithAttributes(t *testing.T) {
	plain := `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
		xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
		xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery">
		<s:Header><a:MessageID>uuid:abc</a:MessageID></s:Header>
		<s:Body><d:Probe><d:Types>dn:NetworkVideoTransmitter</d:Types></d:Probe></s:Body>
	</s:Envelope>`

	attributed := `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
		xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
		xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery">
		<s:Header><a:MessageID s:mustUnderstand="true">uuid:abc</a:MessageID></s:Header>
		<s:Body><d:Probe><d:Types xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
			dn:NetworkVideoTransmitter
		</d:Types></d:Probe></s:Body>
	</s:Envelope>`

	a, err := parseProbe([]byte(plain))
	require.NoError(t, err)
	b, err := parseProbe([]byte(attributed))
	require.NoError(t, err)

	assert.Equal(t, probe{MessageID: "uuid:abc", Types: "dn:NetworkVideoTransmitter"}, a)
	assert.Equal(t, a, b)
	assert.True(t, a.matches())
}

func TestProbeMatches(t *testing.T) {
	tests := []struct {
		types string
		want  bool
	}{
		{"", true},
		{"dn:NetworkVideoTransmitter", true},
		{"tds:Device dn:NetworkVideoTransmitter", true},
		{"tds:Device", false},
		{"tns:SomeOtherDevice", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, probe{Types: tt.types}.matches(), tt.types)
	}
}

func TestBuildProbeMatchesContent(t *testing.T) {
	device := newTestDevice(t, "Front Door", uuidA)

	msg, err := buildProbeMatches(device, "uuid:req", 7)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, xml.Unmarshal(msg, &env))
	assert.Equal(t, "uuid:req", env.Header.RelatesTo)
	assert.Equal(t, "http://schemas.xmlsoap.org/ws/2005/04/discovery/ProbeMatches", env.Header.Action)
	assert.True(t, strings.HasPrefix(env.Header.MessageID, "uuid:"))
	assert.Equal(t, uint64(7), env.Header.AppSequence.MessageNumber)

	require.Len(t, env.Body.ProbeMatches.ProbeMatch, 1)
	match := env.Body.ProbeMatches.ProbeMatch[0]
	assert.Equal(t, "http://127.0.0.1:0/onvif/device_service", match.XAddrs)
	assert.Equal(t, 1, match.MetadataVersion)
	assert.ElementsMatch(t, discoveryScopes, strings.Fields(match.Scopes))
}

func TestRegisterSkipsDuplicateUUID(t *testing.T) {
	responder := newTestResponder(t, uuidA)
	responder.Register(newTestDevice(t, "Copy", uuidA))

	assert.Len(t, responder.registered(), 1)
}

func TestResponderLifecycle(t *testing.T) {
	responder := newTestResponder(t, uuidA)
	assert.Equal(t, StateStopped, responder.State())
	assert.Nil(t, responder.LocalAddr())

	require.NoError(t, responder.Start())
	assert.Equal(t, StateListening, responder.State())
	assert.NotNil(t, responder.LocalAddr())

	err := responder.Start()
	assert.Error(t, err)

	require.NoError(t, responder.Stop())
	assert.Equal(t, StateStopped, responder.State())
	assert.Nil(t, responder.LocalAddr())

	// stopping twice is harmless
	require.NoError(t, responder.Stop())
}

func TestResponderBindFailure(t *testing.T) {
	first := newTestResponder(t, uuidA)
	require.NoError(t, first.Start())
	defer first.Stop()

	second := NewDiscoveryResponder(DiscoveryOptions{ListenAddr: first.LocalAddr().String()}, nopLogger())
	require.Error(t, second.Start())
	assert.Equal(t, StateStopped, second.State())
}

func TestResponderJoinsOncePerIP(t *testing.T) {
	device := func(name, id, ip string) *VirtualDevice {
		resolve := func(string) (string, error) { return ip, nil }
		d, err := NewVirtualDevice(testConfig(name, id), false, resolve, nopLogger())
		require.NoError(t, err)
		return d
	}

	responder := NewDiscoveryResponder(DiscoveryOptions{ListenAddr: "127.0.0.1:0"}, nopLogger())
	responder.Register(
		device("Camera A", uuidA, "10.0.0.1"),
		device("Camera B", uuidB, "10.0.0.1"),
		device("Camera C", uuidC, "10.0.0.2"),
	)

	var joins []string
	responder.join = func(_ *ipv4.PacketConn, ip string, group *net.UDPAddr) error {
		joins = append(joins, ip)
		assert.Equal(t, "239.255.255.250", group.IP.String())
		if ip == "10.0.0.2" {
			return errors.New("no such interface")
		}
		return nil
	}

	require.NoError(t, responder.Start())
	defer responder.Stop()

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, joins)
	assert.Equal(t, StateListening, responder.State())
}

func TestServeExitsOnClosedSocket(t *testing.T) {
	responder := newTestResponder(t, uuidA)
	require.NoError(t, responder.Start())

	responder.mu.Lock()
	require.NoError(t, responder.recv.Close())
	responder.mu.Unlock()

	done := make(chan struct{})
	go func() {
		responder.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve kept reading from a closed socket")
	}

	// the receive socket is already closed
	_ = responder.Stop()
	assert.Equal(t, StateStopped, responder.State())
}

func TestProbeAgainstResponder(t *testing.T) {
	responder := newTestResponder(t, uuidA, uuidB, uuidC)
	require.NoError(t, responder.Start())
	defer responder.Stop()

	run := func(types string) []ProbeMatch {
		matches, err := Probe(context.Background(), &ProbeOptions{
			Timeout: 500 * time.Millisecond,
			Addr:    responder.LocalAddr().String(),
			Types:   types,
		})
		require.NoError(t, err)
		return matches
	}

	matches := run("")
	require.Len(t, matches, 3)
	var endpoints []string
	for _, match := range matches {
		endpoints = append(endpoints, match.Endpoint)
		assert.Equal(t, uint64(0), match.MessageNumber)
		assert.Equal(t, "Onvif", match.Name)
		assert.Equal(t, "Cardinal", match.Hardware)
		assert.Equal(t, []string{"http://127.0.0.1:0/onvif/device_service"}, match.XAddrs)
	}
	assert.ElementsMatch(t, []string{"urn:uuid:" + uuidA, "urn:uuid:" + uuidB, "urn:uuid:" + uuidC}, endpoints)

	assert.Empty(t, run("tns:SomeOtherDevice"))

	matches = run("dn:NetworkVideoTransmitter")
	require.Len(t, matches, 3)
	for _, match := range matches {
		assert.Equal(t, uint64(1), match.MessageNumber)
	}
}

func TestProbeContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := Probe(ctx, &ProbeOptions{Timeout: 5 * time.Second, Addr: "127.0.0.1:9"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestParseScopes(t *testing.T) {
	name, location, hardware := parseScopes("onvif://www.onvif.org/name/Front_Door onvif://www.onvif.org/location/Main_Gate onvif://www.onvif.org/hardware/Cardinal")
	assert.Equal(t, "Front Door", name)
	assert.Equal(t, "Main Gate", location)
	assert.Equal(t, "Cardinal", hardware)
}
