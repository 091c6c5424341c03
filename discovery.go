package onvif

import (
	stderrors "errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

// WS-Discovery namespaces and fixed values
const (
	addressingNS      = "http://schemas.xmlsoap.org/ws/2004/08/addressing"
	discoveryNS       = "http://schemas.xmlsoap.org/ws/2005/04/discovery"
	networkNS         = "http://www.onvif.org/ver10/network/wsdl"
	probeMatchesType  = "dn:NetworkVideoTransmitter"
	probeMatchAction  = "http://schemas.xmlsoap.org/ws/2005/04/discovery/ProbeMatches"
	anonymousReceiver = "http://schemas.xmlsoap.org/ws/2004/08/addressing/role/anonymous"
	transmitterType   = "NetworkVideoTransmitter"
	readRetryDelay    = 100 * time.Millisecond
)

// ResponderState is the lifecycle state of a DiscoveryResponder
type ResponderState int

const (
	StateStopped ResponderState = iota
	StateBound
	StateListening
)

func (s ResponderState) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateListening:
		return "listening"
	}
	return "stopped"
}

// probe is an inbound WS-Discovery Probe normalized to plain strings
type probe struct {
	MessageID string
	Types     string
}

// matches reports whether the probe asks for network video transmitters
func (p probe) matches() bool {
	return p.Types == "" || strings.Contains(p.Types, transmitterType)
}

type packetWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// groupJoiner joins the multicast group on the interface carrying ip
type groupJoiner func(pc *ipv4.PacketConn, ip string, group *net.UDPAddr) error

func joinInterfaceGroup(pc *ipv4.PacketConn, ip string, group *net.UDPAddr) error {
	iface, err := interfaceByIP(ip)
	if err != nil {
		return err
	}
	if err := pc.JoinGroup(iface, group); err != nil {
		return errors.Annotatef(err, "interface %s", iface.Name)
	}
	return nil
}

// DiscoveryResponder answers WS-Discovery probes for all registered virtual
// devices from one shared UDP socket. Every device has its own AppSequence
// counter.
type DiscoveryResponder struct {
	opts   DiscoveryOptions
	logger zerolog.Logger

	mu       sync.Mutex
	state    ResponderState
	devices  []*VirtualDevice
	sequence map[string]uint64 // keyed by device UUID
	join     groupJoiner
	recv     *net.UDPConn
	send     *net.UDPConn
	wg       sync.WaitGroup
}

// NewDiscoveryResponder creates a stopped responder
func NewDiscoveryResponder(opts DiscoveryOptions, logger zerolog.Logger) *DiscoveryResponder {
	if opts.ListenAddr == "" {
		opts.ListenAddr = DefaultDiscoveryAddr
	}
	if opts.MulticastAddr == "" {
		opts.MulticastAddr = DefaultMulticastAddr
	}

	return &DiscoveryResponder{
		opts:     opts,
		logger:   logger.With().Str("component", "discovery").Logger(),
		sequence: make(map[string]uint64),
		join:     joinInterfaceGroup,
	}
}

// Register adds devices to the responder. Their sequence counters start at 0.
func (r *DiscoveryResponder) Register(devices ...*VirtualDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, device := range devices {
		if _, ok := r.sequence[device.Identity.UUID]; ok {
			r.logger.Warn().Str("uuid", device.Identity.UUID).Msg("Device already registered")
			continue
		}
		r.devices = append(r.devices, device)
		r.sequence[device.Identity.UUID] = 0
	}
}

// State returns the current lifecycle state
func (r *DiscoveryResponder) State() ResponderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LocalAddr returns the address of the receive socket, nil when stopped
func (r *DiscoveryResponder) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recv == nil {
		return nil
	}
	return r.recv.LocalAddr()
}

// Start binds the discovery socket, joins the multicast group on the
// interface of every distinct device IP and starts answering probes
func (r *DiscoveryResponder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStopped {
		return errors.AlreadyExistsf("discovery responder in state %s", r.state)
	}

	laddr, err := net.ResolveUDPAddr("udp4", r.opts.ListenAddr)
	if err != nil {
		return errors.Annotatef(err, "failed to resolve listen address %s", r.opts.ListenAddr)
	}
	group, err := net.ResolveUDPAddr("udp4", r.opts.MulticastAddr)
	if err != nil {
		return errors.Annotatef(err, "failed to resolve multicast address %s", r.opts.MulticastAddr)
	}

	recv, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return errors.Annotatef(err, "failed to bind discovery socket %s", r.opts.ListenAddr)
	}
	r.recv = recv
	r.state = StateBound

	r.joinGroups(recv, group.IP)

	send, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		recv.Close()
		r.recv = nil
		r.state = StateStopped
		return errors.Annotate(err, "failed to create discovery send socket")
	}
	r.send = send

	r.wg.Add(1)
	go r.serve(recv, send)

	r.state = StateListening
	r.logger.Info().
		Str("addr", recv.LocalAddr().String()).
		Int("devices", len(r.devices)).
		Msg("Discovery responder listening")
	return nil
}

// joinGroups joins the multicast group once per distinct device IP. A
// failed join is logged and does not affect the other interfaces.
func (r *DiscoveryResponder) joinGroups(conn *net.UDPConn, group net.IP) {
	pc := ipv4.NewPacketConn(conn)
	joined := make(map[string]bool)

	for _, device := range r.devices {
		ip := device.Identity.HostIP
		if joined[ip] {
			continue
		}
		joined[ip] = true

		if err := r.join(pc, ip, &net.UDPAddr{IP: group}); err != nil {
			r.logger.Warn().Err(err).Str("ip", ip).Msg("Failed to join multicast group")
			continue
		}
		r.logger.Debug().Str("ip", ip).Msg("Joined multicast group")
	}
}

// Stop closes both sockets and returns the responder to the stopped state
func (r *DiscoveryResponder) Stop() error {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return nil
	}

	var firstErr error
	for _, conn := range []*net.UDPConn{r.recv, r.send} {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.recv, r.send = nil, nil
	r.state = StateStopped
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info().Msg("Discovery responder stopped")
	return errors.Trace(firstErr)
}

func (r *DiscoveryResponder) serve(recv *net.UDPConn, send packetWriter) {
	defer r.wg.Done()

	buffer := make([]byte, 65536)
	for {
		n, from, err := recv.ReadFromUDP(buffer)
		if err != nil {
			if r.State() == StateStopped || stderrors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn().Err(err).Msg("Failed to read discovery datagram")
			time.Sleep(readRetryDelay)
			continue
		}

		r.handleDatagram(buffer[:n], from, send)
	}
}

// handleDatagram answers one datagram. Every registered device that
// matches gets its own ProbeMatches message, in registration order.
func (r *DiscoveryResponder) handleDatagram(data []byte, from *net.UDPAddr, send packetWriter) {
	p, err := parseProbe(data)
	if err != nil {
		r.logger.Debug().Err(err).Str("from", from.String()).Msg("Dropping discovery datagram")
		return
	}

	if !p.matches() {
		r.logger.Debug().Str("types", p.Types).Str("from", from.String()).Msg("Ignoring probe for other device types")
		return
	}

	for _, device := range r.registered() {
		messageNumber := r.sequenceOf(device.Identity.UUID)

		msg, err := buildProbeMatches(device, p.MessageID, messageNumber)
		if err != nil {
			r.logger.Error().Err(err).Str("device", device.Identity.Name).Msg("Failed to build ProbeMatches")
			continue
		}

		if _, err := send.WriteToUDP(msg, from); err != nil {
			r.logger.Warn().Err(err).Str("device", device.Identity.Name).Str("to", from.String()).Msg("Failed to send ProbeMatches")
			continue
		}
		r.advanceSequence(device.Identity.UUID)

		r.logger.Debug().
			Str("device", device.Identity.Name).
			Str("to", from.String()).
			Uint64("message_number", messageNumber).
			Msg("Sent ProbeMatches")
	}
}

func (r *DiscoveryResponder) registered() []*VirtualDevice {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make([]*VirtualDevice, len(r.devices))
	copy(devices, r.devices)
	return devices
}

// sequenceOf returns the message number the device's next ProbeMatches
// carries. Numbers only advance once a message went out.
func (r *DiscoveryResponder) sequenceOf(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence[id]
}

func (r *DiscoveryResponder) advanceSequence(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence[id]++
}

// parseProbe reads the message ID and type filter of a Probe. Only the
// element text is used, so a value with or without attributes reads the same.
func parseProbe(data []byte) (probe, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return probe{}, errors.Annotate(err, "failed to parse discovery message")
	}

	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return probe{}, errors.NotValidf("discovery envelope")
	}

	body := childElement(root, "Body")
	if body == nil {
		return probe{}, errors.NotValidf("discovery envelope without body")
	}
	probeElement := childElement(body, "Probe")
	if probeElement == nil {
		return probe{}, errors.NotValidf("discovery message without Probe")
	}

	var p probe
	if header := childElement(root, "Header"); header != nil {
		p.MessageID = elementText(childElement(header, "MessageID"))
	}
	p.Types = elementText(childElement(probeElement, "Types"))

	return p, nil
}

func elementText(e *etree.Element) string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.Text())
}

// buildProbeMatches creates the ProbeMatches message of one device
func buildProbeMatches(device *VirtualDevice, relatesTo string, messageNumber uint64) ([]byte, error) {
	messageID, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Annotate(err, "failed to generate message ID")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envelope := doc.CreateElement("SOAP-ENV:Envelope")
	envelope.CreateAttr("xmlns:SOAP-ENV", soapEnvelopeNS)
	envelope.CreateAttr("xmlns:wsa", addressingNS)
	envelope.CreateAttr("xmlns:d", discoveryNS)
	envelope.CreateAttr("xmlns:dn", networkNS)

	header := envelope.CreateElement("SOAP-ENV:Header")
	addText(header, "wsa:MessageID", "uuid:"+messageID.String())
	addText(header, "wsa:RelatesTo", relatesTo)
	addText(header, "wsa:To", anonymousReceiver).CreateAttr("SOAP-ENV:mustUnderstand", "true")
	addText(header, "wsa:Action", probeMatchAction).CreateAttr("SOAP-ENV:mustUnderstand", "true")

	sequence := header.CreateElement("d:AppSequence")
	sequence.CreateAttr("SOAP-ENV:mustUnderstand", "true")
	sequence.CreateAttr("MessageNumber", strconv.FormatUint(messageNumber, 10))
	sequence.CreateAttr("InstanceId", strconv.Itoa(DiscoveryInstanceID))

	match := envelope.CreateElement("SOAP-ENV:Body").
		CreateElement("d:ProbeMatches").
		CreateElement("d:ProbeMatch")
	addText(match.CreateElement("wsa:EndpointReference"), "wsa:Address", "urn:uuid:"+device.Identity.UUID)
	addText(match, "d:Types", probeMatchesType)
	addText(match, "d:Scopes", strings.Join(discoveryScopes, " "))
	addText(match, "d:XAddrs", device.XAddr())
	addInt(match, "d:MetadataVersion", 1)

	out, err := doc.WriteToBytes()
	return out, errors.Trace(err)
}
