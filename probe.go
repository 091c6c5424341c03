package onvif

import (
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/juju/errors"
)

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"
          xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
          xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
          xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
    <Header>
        <a:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
        <a:MessageID>%s</a:MessageID>
        <a:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
    </Header>
    <Body>
        <d:Probe>%s</d:Probe>
    </Body>
</Envelope>`

// Discovery response structures
type envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Header  header   `xml:"Header"`
	Body    body     `xml:"Body"`
}

type header struct {
	MessageID   string `xml:"MessageID"`
	RelatesTo   string `xml:"RelatesTo"`
	To          string `xml:"To"`
	Action      string `xml:"Action"`
	AppSequence appSeq `xml:"AppSequence"`
}

type appSeq struct {
	InstanceId    int    `xml:"InstanceId,attr"`
	MessageNumber uint64 `xml:"MessageNumber,attr"`
}

type body struct {
	ProbeMatches probeMatches `xml:"ProbeMatches"`
}

type probeMatches struct {
	ProbeMatch []probeMatch `xml:"ProbeMatch"`
}

type probeMatch struct {
	EndpointReference endpointRef `xml:"EndpointReference"`
	Types             string      `xml:"Types"`
	Scopes            string      `xml:"Scopes"`
	XAddrs            string      `xml:"XAddrs"`
	MetadataVersion   int         `xml:"MetadataVersion"`
}

type endpointRef struct {
	Address string `xml:"Address"`
}

// ProbeOptions configures a WS-Discovery probe
type ProbeOptions struct {
	Timeout time.Duration
	Addr    string // multicast group or a unicast responder address
	Types   string // empty probes for every device type
}

// ProbeMatch is one device answering a probe
type ProbeMatch struct {
	Endpoint        string
	Types           string
	Scopes          []string
	XAddrs          []string
	MetadataVersion int
	MessageNumber   uint64
	InstanceID      int

	// From scopes
	Name     string
	Location string
	Hardware string
}

// Probe sends a WS-Discovery probe and collects the matches that arrive
// before the timeout or the context ends
func Probe(ctx context.Context, options *ProbeOptions) ([]ProbeMatch, error) {
	if options == nil {
		options = &ProbeOptions{Types: probeMatchesType}
	}
	timeout := options.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	target := options.Addr
	if target == "" {
		target = DefaultMulticastAddr
	}

	addr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, errors.Annotate(err, "failed to resolve probe address")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, errors.Annotate(err, "failed to create UDP connection")
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Annotate(err, "failed to set read deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	messageID, err := newProbeMessageID()
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(buildProbe(messageID, options.Types), addr); err != nil {
		return nil, errors.Annotate(err, "failed to send probe message")
	}

	var matches []ProbeMatch
	buffer := make([]byte, 65536)

	for {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			continue
		}

		var env envelope
		if err := xml.Unmarshal(buffer[:n], &env); err != nil {
			continue
		}
		if env.Header.RelatesTo != messageID {
			continue
		}

		for _, match := range env.Body.ProbeMatches.ProbeMatch {
			name, location, hardware := parseScopes(match.Scopes)
			matches = append(matches, ProbeMatch{
				Endpoint:        match.EndpointReference.Address,
				Types:           match.Types,
				Scopes:          strings.Fields(match.Scopes),
				XAddrs:          strings.Fields(match.XAddrs),
				MetadataVersion: match.MetadataVersion,
				MessageNumber:   env.Header.AppSequence.MessageNumber,
				InstanceID:      env.Header.AppSequence.InstanceId,
				Name:            name,
				Location:        location,
				Hardware:        hardware,
			})
		}
	}

	return matches, ctx.Err()
}

func newProbeMessageID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Annotate(err, "failed to generate probe message ID")
	}
	return "uuid:" + id.String(), nil
}

func buildProbe(messageID, types string) []byte {
	filter := ""
	if types != "" {
		filter = "<d:Types>" + types + "</d:Types>"
	}
	return []byte(fmt.Sprintf(probeTemplate, messageID, filter))
}

func parseScopes(scopes string) (name, location, hardware string) {
	for _, scope := range strings.Fields(scopes) {
		switch {
		case strings.HasPrefix(scope, "onvif://www.onvif.org/name/"):
			name = strings.TrimPrefix(scope, "onvif://www.onvif.org/name/")
			name = strings.ReplaceAll(name, "_", " ")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/location/"):
			location = strings.TrimPrefix(scope, "onvif://www.onvif.org/location/")
			location = strings.ReplaceAll(location, "_", " ")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/hardware/"):
			hardware = strings.TrimPrefix(scope, "onvif://www.onvif.org/hardware/")
			hardware = strings.ReplaceAll(hardware, "_", " ")
		}
	}
	return
}
