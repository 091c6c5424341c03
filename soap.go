package onvif

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

// Namespaces written into response envelopes
const (
	soapEnvelopeNS  = "http://www.w3.org/2003/05/soap-envelope"
	schemaNS        = "http://www.onvif.org/ver10/schema"
	errorNS         = "http://www.onvif.org/ver10/error"
	soapContentType = "application/soap+xml; charset=utf-8"
)

// SOAP 1.2 fault codes
const (
	faultSender   = "SOAP-ENV:Sender"
	faultReceiver = "SOAP-ENV:Receiver"
)

// soapRequest is an inbound SOAP call reduced to its operation element
type soapRequest struct {
	Operation string
	Body      *etree.Element
}

// parseSOAPRequest extracts the operation from a SOAP envelope. Namespace
// prefixes are ignored, clients use all sorts of them.
func parseSOAPRequest(data []byte) (*soapRequest, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, errors.Annotate(err, "failed to parse SOAP envelope")
	}

	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, errors.NotValidf("SOAP envelope")
	}

	body := childElement(root, "Body")
	if body == nil {
		return nil, errors.NotValidf("SOAP envelope without body")
	}

	children := body.ChildElements()
	if len(children) == 0 {
		return nil, errors.NotValidf("SOAP body without operation")
	}

	return &soapRequest{
		Operation: children[0].Tag,
		Body:      children[0],
	}, nil
}

// param returns the trimmed text of the first descendant with the given
// local name, or "" if there is none
func (r *soapRequest) param(name string) string {
	if e := findElement(r.Body, name); e != nil {
		return strings.TrimSpace(e.Text())
	}
	return ""
}

func childElement(e *etree.Element, local string) *etree.Element {
	for _, child := range e.ChildElements() {
		if child.Tag == local {
			return child
		}
	}
	return nil
}

func findElement(e *etree.Element, local string) *etree.Element {
	for _, child := range e.ChildElements() {
		if child.Tag == local {
			return child
		}
		if found := findElement(child, local); found != nil {
			return found
		}
	}
	return nil
}

// newEnvelope creates a response document and returns it with its body
func newEnvelope() (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envelope := doc.CreateElement("SOAP-ENV:Envelope")
	envelope.CreateAttr("xmlns:SOAP-ENV", soapEnvelopeNS)
	envelope.CreateAttr("xmlns:tds", DeviceNamespace)
	envelope.CreateAttr("xmlns:trt", MediaNamespace)
	envelope.CreateAttr("xmlns:tt", schemaNS)
	envelope.CreateAttr("xmlns:ter", errorNS)

	envelope.CreateElement("SOAP-ENV:Header")
	body := envelope.CreateElement("SOAP-ENV:Body")

	return doc, body
}

// buildFault creates a SOAP 1.2 fault document
func buildFault(code, subcode, reason string) *etree.Document {
	doc, body := newEnvelope()

	fault := body.CreateElement("SOAP-ENV:Fault")
	faultCode := fault.CreateElement("SOAP-ENV:Code")
	faultCode.CreateElement("SOAP-ENV:Value").SetText(code)
	if subcode != "" {
		faultCode.CreateElement("SOAP-ENV:Subcode").CreateElement("SOAP-ENV:Value").SetText(subcode)
	}

	text := fault.CreateElement("SOAP-ENV:Reason").CreateElement("SOAP-ENV:Text")
	text.CreateAttr("xml:lang", "en")
	text.SetText(reason)

	return doc
}
