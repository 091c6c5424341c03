// Package onvif emulates ONVIF Profile S network video transmitters. Each
// configured channel of a real camera is exposed as its own virtual device
// with a SOAP device/media endpoint and a WS-Discovery presence.
package onvif

import (
	"time"
)

// Codec names accepted for a quality tier
const (
	CodecH264  = "H264"
	CodecH265  = "H265"
	CodecMPEG4 = "MPEG4"
	CodecJPEG  = "JPEG"
)

// Profile tokens and names exposed by every virtual device
const (
	MainStreamToken = "main_stream"
	SubStreamToken  = "sub_stream"
	MainStreamName  = "MainStream"
	SubStreamName   = "SubStream"

	videoSourceToken       = "video_src_token"
	videoSourceConfigToken = "video_src_config_token"
	highEncoderToken       = "encoder_hq_config_token"
	lowEncoderToken        = "encoder_lq_config_token"
)

// Service paths served by each virtual device
const (
	DeviceServicePath = "/onvif/device_service"
	MediaServicePath  = "/onvif/media_service"
	SnapshotPath      = "/snapshot.png"
)

// Fixed device identity reported by GetDeviceInformation. Some NVRs only
// accept third-party cameras that report this manufacturer and model.
const (
	Manufacturer    = "Onvif"
	Model           = "Cardinal"
	FirmwareVersion = "1.0.0"
)

// DeviceIdentity is the network identity of one virtual device
type DeviceIdentity struct {
	MAC               string
	HostIP            string // resolved from MAC at startup
	UUID              string
	Name              string
	ServerPort        int
	RTSPProxyPort     int
	SnapshotProxyPort int // 0 disables the snapshot relay
}

// QualityTier describes one encoded stream of the real camera
type QualityTier struct {
	RTSPPath         string
	SnapshotPath     string // optional
	Width            int
	Height           int
	Framerate        int
	Bitrate          int     // kbit/s
	Quality          float64 // 1.0 - 5.0
	Codec            string
	GOPLength        int
	CodecProfile     string
	EncodingInterval int
}

// TargetEndpoint is the real device the virtual devices relay to
type TargetEndpoint struct {
	Hostname     string
	RTSPPort     int
	SnapshotPort int
}

// DeviceConfig is a fully defaulted configuration of one virtual device
type DeviceConfig struct {
	MAC               string
	UUID              string
	Name              string
	ServerPort        int
	RTSPProxyPort     int
	SnapshotProxyPort int

	High   QualityTier
	Low    *QualityTier
	Target TargetEndpoint
}

// Route asks the relay to forward TCP connections from source to target
type Route struct {
	SourceHost string
	SourcePort int
	TargetHost string
	TargetPort int
}

// Resolution represents video resolution
type Resolution struct {
	Width  int
	Height int
}

// RateControl is the rate control block of an encoder configuration
type RateControl struct {
	FrameRateLimit   int
	EncodingInterval int
	BitrateLimit     int
}

// CodecOptions carries GOP length and codec profile for a codec block
type CodecOptions struct {
	GovLength int
	Profile   string
}

// EncoderConfiguration is the video encoder configuration derived from a tier.
// At most one of H264, MPEG4 and H265 is set.
type EncoderConfiguration struct {
	Token          string
	Name           string
	UseCount       int
	Encoding       string
	Resolution     Resolution
	Quality        float64
	RateControl    RateControl
	SessionTimeout string

	H264  *CodecOptions
	MPEG4 *CodecOptions
	// H265 has no Profile S block; GovLength and Profile are written
	// directly on the configuration.
	H265 *CodecOptions
}

// VideoSourceConfiguration binds a profile to the video source
type VideoSourceConfiguration struct {
	Token       string
	Name        string
	UseCount    int
	SourceToken string
	Bounds      Resolution
}

// VideoSource is the single physical input of a virtual device
type VideoSource struct {
	Token      string
	Framerate  int
	Resolution Resolution
}

// StreamProfile is a media profile (MainStream or SubStream)
type StreamProfile struct {
	Name                 string
	Token                string
	VideoSourceConfig    VideoSourceConfiguration
	EncoderConfiguration EncoderConfiguration
}

// MediaURI is the response of GetStreamUri and GetSnapshotUri
type MediaURI struct {
	URI                 string
	InvalidAfterConnect bool
	InvalidAfterReboot  bool
	Timeout             string
}

// DiscoveryOptions configures the WS-Discovery responder
type DiscoveryOptions struct {
	ListenAddr    string
	MulticastAddr string
}

// Default configuration
const (
	DefaultMulticastAddr  = "239.255.255.250:3702"
	DefaultDiscoveryAddr  = "0.0.0.0:3702"
	DefaultTimeout        = 5 * time.Second
	DefaultStartDelay     = time.Second
	DefaultRTSPPort       = 554
	DefaultSnapshotPort   = 80
	DefaultQuality        = 4.0
	DiscoveryInstanceID   = 1234567890
	sessionTimeout        = "PT1000S"
	mediaURITimeout       = "PT30S"
	supportedVersionMajor = 2
	supportedVersionMinor = 5
)
