package onvif

import (
	"fmt"
	"strings"
	"time"
)

// Capability categories accepted by GetCapabilities
const (
	CategoryAll    = "All"
	CategoryDevice = "Device"
	CategoryMedia  = "Media"
)

// Namespaces of the services a virtual device offers
const (
	DeviceNamespace = "http://www.onvif.org/ver10/device/wsdl"
	MediaNamespace  = "http://www.onvif.org/ver10/media/wsdl"
)

// discoveryScopes is the fixed scope list announced in ProbeMatches and
// returned by GetScopes
var discoveryScopes = []string{
	"onvif://www.onvif.org/type/video_encoder",
	"onvif://www.onvif.org/type/Network_Video_Transmitter",
	"onvif://www.onvif.org/Profile/Streaming",
	"onvif://www.onvif.org/hardware/" + Model,
	"onvif://www.onvif.org/name/" + Manufacturer,
}

// DeviceAPI is the ONVIF Device service contract
type DeviceAPI interface {
	GetSystemDateAndTime() SystemDateAndTime
	GetCapabilities(category string) Capabilities
	GetServices() []Service
	GetDeviceInformation() DeviceInformation
	GetHostname() HostnameInformation
	GetScopes() []string
}

// SystemDateAndTime is the response of GetSystemDateAndTime
type SystemDateAndTime struct {
	DateTimeType    string
	DaylightSavings bool
	TZ              string
	UTC             time.Time
	Local           time.Time
}

// Capabilities holds the capability blocks selected by category
type Capabilities struct {
	Device *DeviceCapabilities
	Media  *MediaCapabilities
}

// DeviceCapabilities is the Device capability block. Everything except the
// XAddr and the supported version is advertised as unsupported.
type DeviceCapabilities struct {
	XAddr string
}

// MediaCapabilities is the Media capability block
type MediaCapabilities struct {
	XAddr                   string
	MaximumNumberOfProfiles int
}

// Service is one entry of GetServices
type Service struct {
	Namespace string
	XAddr     string
	Major     int
	Minor     int
}

// DeviceInformation is the response of GetDeviceInformation
type DeviceInformation struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	HardwareId      string
}

// HostnameInformation is the response of GetHostname
type HostnameInformation struct {
	FromDHCP bool
	Name     string
}

// DeviceService implements DeviceAPI for one virtual device
type DeviceService struct {
	identity     DeviceIdentity
	profileCount int
	now          func() time.Time
}

// NewDeviceService creates the device service of a virtual device
func NewDeviceService(identity DeviceIdentity, profileCount int) *DeviceService {
	return &DeviceService{
		identity:     identity,
		profileCount: profileCount,
		now:          time.Now,
	}
}

// GetSystemDateAndTime reports the host clock and time zone
func (s *DeviceService) GetSystemDateAndTime() SystemDateAndTime {
	now := s.now()
	return SystemDateAndTime{
		DateTimeType:    "NTP",
		DaylightSavings: IsDSTObserved(now),
		TZ:              TimezoneOffsetString(now),
		UTC:             now.UTC(),
		Local:           now,
	}
}

// GetCapabilities returns the Device and/or Media capability blocks. Other
// categories (Events, Imaging, PTZ...) get an empty document.
func (s *DeviceService) GetCapabilities(category string) Capabilities {
	var caps Capabilities

	if category == "" || category == CategoryAll || category == CategoryDevice {
		caps.Device = &DeviceCapabilities{
			XAddr: s.identity.serviceURL(DeviceServicePath),
		}
	}
	if category == "" || category == CategoryAll || category == CategoryMedia {
		caps.Media = &MediaCapabilities{
			XAddr:                   s.identity.serviceURL(MediaServicePath),
			MaximumNumberOfProfiles: s.profileCount,
		}
	}

	return caps
}

// GetServices lists the device and media services
func (s *DeviceService) GetServices() []Service {
	return []Service{
		{
			Namespace: DeviceNamespace,
			XAddr:     s.identity.serviceURL(DeviceServicePath),
			Major:     supportedVersionMajor,
			Minor:     supportedVersionMinor,
		},
		{
			Namespace: MediaNamespace,
			XAddr:     s.identity.serviceURL(MediaServicePath),
			Major:     supportedVersionMajor,
			Minor:     supportedVersionMinor,
		},
	}
}

// GetDeviceInformation returns the fixed identity plus serial number and
// hardware id derived from the device name
func (s *DeviceService) GetDeviceInformation() DeviceInformation {
	base := strings.ReplaceAll(s.identity.Name, " ", "_")
	return DeviceInformation{
		Manufacturer:    Manufacturer,
		Model:           Model,
		FirmwareVersion: FirmwareVersion,
		SerialNumber:    base + "-0000",
		HardwareId:      base + "-1001",
	}
}

// GetHostname returns the device name as a manually assigned hostname
func (s *DeviceService) GetHostname() HostnameInformation {
	return HostnameInformation{
		FromDHCP: false,
		Name:     strings.ReplaceAll(s.identity.Name, " ", "_"),
	}
}

// GetScopes returns the fixed scope list
func (s *DeviceService) GetScopes() []string {
	scopes := make([]string, len(discoveryScopes))
	copy(scopes, discoveryScopes)
	return scopes
}

func (id DeviceIdentity) serviceURL(path string) string {
	return fmt.Sprintf("http://%s:%d%s", id.HostIP, id.ServerPort, path)
}
