package onvif

import (
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// Writers for the tt schema types. Element order follows the ONVIF schema,
// some VMS clients reject documents that deviate from it.

func addText(parent *etree.Element, tag, value string) *etree.Element {
	e := parent.CreateElement(tag)
	e.SetText(value)
	return e
}

func addInt(parent *etree.Element, tag string, value int) *etree.Element {
	return addText(parent, tag, strconv.Itoa(value))
}

func addBool(parent *etree.Element, tag string, value bool) *etree.Element {
	return addText(parent, tag, strconv.FormatBool(value))
}

func addFloat(parent *etree.Element, tag string, value float64) *etree.Element {
	return addText(parent, tag, strconv.FormatFloat(value, 'f', -1, 64))
}

func writeDateTime(parent *etree.Element, t time.Time) {
	clock := parent.CreateElement("tt:Time")
	addInt(clock, "tt:Hour", t.Hour())
	addInt(clock, "tt:Minute", t.Minute())
	addInt(clock, "tt:Second", t.Second())

	date := parent.CreateElement("tt:Date")
	addInt(date, "tt:Year", t.Year())
	addInt(date, "tt:Month", int(t.Month()))
	addInt(date, "tt:Day", t.Day())
}

func writeSystemDateAndTime(parent *etree.Element, v SystemDateAndTime) {
	e := parent.CreateElement("tds:SystemDateAndTime")
	addText(e, "tt:DateTimeType", v.DateTimeType)
	addBool(e, "tt:DaylightSavings", v.DaylightSavings)
	addText(e.CreateElement("tt:TimeZone"), "tt:TZ", v.TZ)
	writeDateTime(e.CreateElement("tt:UTCDateTime"), v.UTC)
	writeDateTime(e.CreateElement("tt:LocalDateTime"), v.Local)
}

func writeVersion(parent *etree.Element, major, minor int) {
	addInt(parent, "tt:Major", major)
	addInt(parent, "tt:Minor", minor)
}

func writeCapabilities(parent *etree.Element, caps Capabilities) {
	e := parent.CreateElement("tds:Capabilities")

	if caps.Device != nil {
		device := e.CreateElement("tt:Device")
		addText(device, "tt:XAddr", caps.Device.XAddr)

		network := device.CreateElement("tt:Network")
		for _, name := range []string{"tt:IPFilter", "tt:ZeroConfiguration", "tt:IPVersion6", "tt:DynDNS"} {
			addBool(network, name, false)
		}

		system := device.CreateElement("tt:System")
		for _, name := range []string{"tt:DiscoveryResolve", "tt:DiscoveryBye", "tt:RemoteDiscovery", "tt:SystemBackup", "tt:SystemLogging", "tt:FirmwareUpgrade"} {
			addBool(system, name, false)
		}
		writeVersion(system.CreateElement("tt:SupportedVersions"), supportedVersionMajor, supportedVersionMinor)

		io := device.CreateElement("tt:IO")
		addInt(io, "tt:InputConnectors", 0)
		addInt(io, "tt:RelayOutputs", 0)

		security := device.CreateElement("tt:Security")
		for _, name := range []string{"tt:TLS1.1", "tt:TLS1.2", "tt:OnboardKeyGeneration", "tt:AccessPolicyConfig", "tt:X.509Token", "tt:SAMLToken", "tt:KerberosToken", "tt:RELToken"} {
			addBool(security, name, false)
		}
	}

	if caps.Media != nil {
		media := e.CreateElement("tt:Media")
		addText(media, "tt:XAddr", caps.Media.XAddr)

		streaming := media.CreateElement("tt:StreamingCapabilities")
		addBool(streaming, "tt:RTPMulticast", false)
		addBool(streaming, "tt:RTP_TCP", true)
		addBool(streaming, "tt:RTP_RTSP_TCP", true)

		profiles := media.CreateElement("tt:Extension").CreateElement("tt:ProfileCapabilities")
		addInt(profiles, "tt:MaximumNumberOfProfiles", caps.Media.MaximumNumberOfProfiles)
	}
}

func writeServices(parent *etree.Element, services []Service) {
	for _, service := range services {
		e := parent.CreateElement("tds:Service")
		addText(e, "tds:Namespace", service.Namespace)
		addText(e, "tds:XAddr", service.XAddr)
		writeVersion(e.CreateElement("tds:Version"), service.Major, service.Minor)
	}
}

func writeDeviceInformation(parent *etree.Element, info DeviceInformation) {
	addText(parent, "tds:Manufacturer", info.Manufacturer)
	addText(parent, "tds:Model", info.Model)
	addText(parent, "tds:FirmwareVersion", info.FirmwareVersion)
	addText(parent, "tds:SerialNumber", info.SerialNumber)
	addText(parent, "tds:HardwareId", info.HardwareId)
}

func writeHostname(parent *etree.Element, info HostnameInformation) {
	e := parent.CreateElement("tds:HostnameInformation")
	addBool(e, "tt:FromDHCP", info.FromDHCP)
	addText(e, "tt:Name", info.Name)
}

func writeScopes(parent *etree.Element, scopes []string) {
	for _, scope := range scopes {
		e := parent.CreateElement("tds:Scopes")
		addText(e, "tt:ScopeDef", "Fixed")
		addText(e, "tt:ScopeItem", scope)
	}
}

func writeResolution(parent *etree.Element, r Resolution) {
	e := parent.CreateElement("tt:Resolution")
	addInt(e, "tt:Width", r.Width)
	addInt(e, "tt:Height", r.Height)
}

func writeVideoSource(parent *etree.Element, source VideoSource) {
	e := parent.CreateElement("trt:VideoSources")
	e.CreateAttr("token", source.Token)
	addInt(e, "tt:Framerate", source.Framerate)
	writeResolution(e, source.Resolution)
}

func writeVideoSourceConfiguration(parent *etree.Element, tag string, c VideoSourceConfiguration) {
	e := parent.CreateElement(tag)
	e.CreateAttr("token", c.Token)
	addText(e, "tt:Name", c.Name)
	addInt(e, "tt:UseCount", c.UseCount)
	addText(e, "tt:SourceToken", c.SourceToken)

	bounds := e.CreateElement("tt:Bounds")
	bounds.CreateAttr("x", "0")
	bounds.CreateAttr("y", "0")
	bounds.CreateAttr("width", strconv.Itoa(c.Bounds.Width))
	bounds.CreateAttr("height", strconv.Itoa(c.Bounds.Height))
}

func writeEncoderConfiguration(parent *etree.Element, tag string, c EncoderConfiguration) {
	e := parent.CreateElement(tag)
	e.CreateAttr("token", c.Token)
	addText(e, "tt:Name", c.Name)
	addInt(e, "tt:UseCount", c.UseCount)
	addText(e, "tt:Encoding", c.Encoding)
	writeResolution(e, c.Resolution)
	addFloat(e, "tt:Quality", c.Quality)

	rate := e.CreateElement("tt:RateControl")
	addInt(rate, "tt:FrameRateLimit", c.RateControl.FrameRateLimit)
	addInt(rate, "tt:EncodingInterval", c.RateControl.EncodingInterval)
	addInt(rate, "tt:BitrateLimit", c.RateControl.BitrateLimit)

	if c.MPEG4 != nil {
		mpeg4 := e.CreateElement("tt:MPEG4")
		addInt(mpeg4, "tt:GovLength", c.MPEG4.GovLength)
		addText(mpeg4, "tt:Mpeg4Profile", c.MPEG4.Profile)
	}
	if c.H264 != nil {
		h264 := e.CreateElement("tt:H264")
		addInt(h264, "tt:GovLength", c.H264.GovLength)
		addText(h264, "tt:H264Profile", c.H264.Profile)
	}

	multicast := e.CreateElement("tt:Multicast")
	address := multicast.CreateElement("tt:Address")
	addText(address, "tt:Type", "IPv4")
	addText(address, "tt:IPv4Address", "0.0.0.0")
	addInt(multicast, "tt:Port", 0)
	addInt(multicast, "tt:TTL", 0)
	addBool(multicast, "tt:AutoStart", false)

	addText(e, "tt:SessionTimeout", c.SessionTimeout)

	if c.H265 != nil {
		addInt(e, "tt:GovLength", c.H265.GovLength)
		addText(e, "tt:Profile", c.H265.Profile)
	}
}

func writeProfile(parent *etree.Element, tag string, p StreamProfile) {
	e := parent.CreateElement(tag)
	e.CreateAttr("token", p.Token)
	e.CreateAttr("fixed", "true")
	addText(e, "tt:Name", p.Name)
	writeVideoSourceConfiguration(e, "tt:VideoSourceConfiguration", p.VideoSourceConfig)
	writeEncoderConfiguration(e, "tt:VideoEncoderConfiguration", p.EncoderConfiguration)
}

func writeMediaURI(parent *etree.Element, uri MediaURI) {
	e := parent.CreateElement("trt:MediaUri")
	addText(e, "tt:Uri", uri.URI)
	addBool(e, "tt:InvalidAfterConnect", uri.InvalidAfterConnect)
	addBool(e, "tt:InvalidAfterReboot", uri.InvalidAfterReboot)
	addText(e, "tt:Timeout", uri.Timeout)
}
