// Package config loads the YAML description of the virtual devices
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elgs/gostrgen"
	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	onvif "github.com/SridarDhandapani/onvif-server"
)

// Config is the configuration file
type Config struct {
	DirectURLs bool          `yaml:"direct_urls"`
	StartDelay time.Duration `yaml:"start_delay"`
	Log        struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // console or json
	} `yaml:"log"`
	Discovery struct {
		Listen    string `yaml:"listen"`
		Multicast string `yaml:"multicast"`
	} `yaml:"discovery"`
	Devices []Device `yaml:"onvif"`
}

// Device is one virtual device
type Device struct {
	MAC   string `yaml:"mac"`
	Name  string `yaml:"name"`
	UUID  string `yaml:"uuid"`
	Ports struct {
		Server   int `yaml:"server"`
		RTSP     int `yaml:"rtsp"`
		Snapshot int `yaml:"snapshot"`
	} `yaml:"ports"`
	HighQuality *Quality `yaml:"highQuality"`
	LowQuality  *Quality `yaml:"lowQuality,omitempty"`
	Target      struct {
		Hostname string `yaml:"hostname"`
		Ports    struct {
			RTSP     int `yaml:"rtsp"`
			Snapshot int `yaml:"snapshot"`
		} `yaml:"ports"`
	} `yaml:"target"`
}

// Quality is a stream of the real camera
type Quality struct {
	RTSP             string  `yaml:"rtsp"`
	Snapshot         string  `yaml:"snapshot,omitempty"`
	Width            int     `yaml:"width"`
	Height           int     `yaml:"height"`
	Framerate        int     `yaml:"framerate"`
	Bitrate          int     `yaml:"bitrate"`
	Quality          float64 `yaml:"quality"`
	Codec            string  `yaml:"codec,omitempty"`
	GOP              int     `yaml:"gop,omitempty"`
	Profile          string  `yaml:"profile,omitempty"`
	EncodingInterval int     `yaml:"encodingInterval,omitempty"`
}

// Load reads, defaults and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Annotatef(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a configuration document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Annotate(err, "failed to parse YAML")
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StartDelay == 0 {
		c.StartDelay = onvif.DefaultStartDelay
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Discovery.Listen == "" {
		c.Discovery.Listen = onvif.DefaultDiscoveryAddr
	}
	if c.Discovery.Multicast == "" {
		c.Discovery.Multicast = onvif.DefaultMulticastAddr
	}

	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Target.Ports.RTSP == 0 {
			d.Target.Ports.RTSP = onvif.DefaultRTSPPort
		}
		if d.Target.Ports.Snapshot == 0 {
			d.Target.Ports.Snapshot = onvif.DefaultSnapshotPort
		}
	}
}

func (c *Config) validate() error {
	if len(c.Devices) == 0 {
		return errors.NotValidf("config without devices")
	}

	uuids := make(map[string]string)
	for i, d := range c.Devices {
		if d.Name == "" {
			return errors.NotValidf("onvif[%d] without name", i)
		}
		if _, err := net.ParseMAC(d.MAC); err != nil {
			return errors.NotValidf("onvif[%d] %q: mac %q", i, d.Name, d.MAC)
		}
		if _, err := uuid.FromString(d.UUID); err != nil {
			return errors.NotValidf("onvif[%d] %q: uuid %q", i, d.Name, d.UUID)
		}
		key := strings.ToLower(d.UUID)
		if other, ok := uuids[key]; ok {
			return errors.NotValidf("onvif[%d] %q: uuid already used by %q", i, d.Name, other)
		}
		uuids[key] = d.Name

		for name, port := range map[string]int{"server": d.Ports.Server, "rtsp": d.Ports.RTSP} {
			if !validPort(port) {
				return errors.NotValidf("onvif[%d] %q: %s port %d", i, d.Name, name, port)
			}
		}
		if d.Ports.Snapshot != 0 && !validPort(d.Ports.Snapshot) {
			return errors.NotValidf("onvif[%d] %q: snapshot port %d", i, d.Name, d.Ports.Snapshot)
		}

		if d.Target.Hostname == "" {
			return errors.NotValidf("onvif[%d] %q without target hostname", i, d.Name)
		}
		if d.HighQuality == nil {
			return errors.NotValidf("onvif[%d] %q without highQuality", i, d.Name)
		}
		if err := d.HighQuality.validate(); err != nil {
			return errors.Annotatef(err, "onvif[%d] %q highQuality", i, d.Name)
		}
		if d.LowQuality != nil {
			if err := d.LowQuality.validate(); err != nil {
				return errors.Annotatef(err, "onvif[%d] %q lowQuality", i, d.Name)
			}
		}

		// a snapshot path is served through the snapshot relay
		if !c.DirectURLs && d.Ports.Snapshot == 0 && d.hasSnapshot() {
			return errors.NotValidf("onvif[%d] %q: snapshot path without ports.snapshot", i, d.Name)
		}
	}
	return nil
}

func (d *Device) hasSnapshot() bool {
	if d.HighQuality != nil && d.HighQuality.Snapshot != "" {
		return true
	}
	return d.LowQuality != nil && d.LowQuality.Snapshot != ""
}

func (q *Quality) validate() error {
	if q.RTSP == "" {
		return errors.NotValidf("empty rtsp path")
	}
	if q.Width <= 0 || q.Height <= 0 {
		return errors.NotValidf("resolution %dx%d", q.Width, q.Height)
	}
	if q.Framerate <= 0 {
		return errors.NotValidf("framerate %d", q.Framerate)
	}
	if q.Bitrate <= 0 {
		return errors.NotValidf("bitrate %d", q.Bitrate)
	}
	if q.Quality != 0 && (q.Quality < 1 || q.Quality > 5) {
		return errors.NotValidf("quality %v", q.Quality)
	}
	return nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

// DeviceConfigs converts the file into fully defaulted device configurations
func (c *Config) DeviceConfigs() []onvif.DeviceConfig {
	configs := make([]onvif.DeviceConfig, 0, len(c.Devices))
	for _, d := range c.Devices {
		cfg := onvif.DeviceConfig{
			MAC:               d.MAC,
			UUID:              d.UUID,
			Name:              d.Name,
			ServerPort:        d.Ports.Server,
			RTSPProxyPort:     d.Ports.RTSP,
			SnapshotProxyPort: d.Ports.Snapshot,
			High:              d.HighQuality.tier(),
			Target: onvif.TargetEndpoint{
				Hostname:     d.Target.Hostname,
				RTSPPort:     d.Target.Ports.RTSP,
				SnapshotPort: d.Target.Ports.Snapshot,
			},
		}
		if d.LowQuality != nil {
			low := d.LowQuality.tier()
			cfg.Low = &low
		}
		configs = append(configs, cfg)
	}
	return configs
}

func (q *Quality) tier() onvif.QualityTier {
	return onvif.QualityTier{
		RTSPPath:         q.RTSP,
		SnapshotPath:     q.Snapshot,
		Width:            q.Width,
		Height:           q.Height,
		Framerate:        q.Framerate,
		Bitrate:          q.Bitrate,
		Quality:          q.Quality,
		Codec:            strings.ToUpper(q.Codec),
		GOPLength:        q.GOP,
		CodecProfile:     q.Profile,
		EncodingInterval: q.EncodingInterval,
	}.WithDefaults()
}

// Sample returns a configuration skeleton with n devices, each with a
// random locally administered MAC address and a random UUID
func Sample(n int, target string) (*Config, error) {
	cfg := &Config{DirectURLs: false, StartDelay: onvif.DefaultStartDelay}
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"

	for i := 0; i < n; i++ {
		mac, err := randomMAC()
		if err != nil {
			return nil, err
		}
		id, err := uuid.NewV4()
		if err != nil {
			return nil, errors.Annotate(err, "failed to generate UUID")
		}

		var d Device
		d.MAC = mac
		d.Name = "VirtualCamera " + strconv.Itoa(i+1)
		d.UUID = id.String()
		d.Ports.Server = 8081 + i
		d.Ports.RTSP = 8554 + i
		d.Ports.Snapshot = 8580 + i
		d.HighQuality = &Quality{
			RTSP:      "/ch" + strconv.Itoa(i) + "/main",
			Width:     1920,
			Height:    1080,
			Framerate: 15,
			Bitrate:   2048,
			Quality:   onvif.DefaultQuality,
		}
		d.LowQuality = &Quality{
			RTSP:      "/ch" + strconv.Itoa(i) + "/sub",
			Width:     640,
			Height:    360,
			Framerate: 15,
			Bitrate:   512,
			Quality:   onvif.DefaultQuality,
		}
		d.Target.Hostname = target
		d.Target.Ports.RTSP = onvif.DefaultRTSPPort
		d.Target.Ports.Snapshot = onvif.DefaultSnapshotPort

		cfg.Devices = append(cfg.Devices, d)
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	return out, errors.Trace(err)
}

// randomMAC creates a unicast, locally administered MAC address
func randomMAC() (string, error) {
	hex, err := gostrgen.RandGen(10, gostrgen.Digit, "abcdef", "")
	if err != nil {
		return "", errors.Annotate(err, "failed to generate MAC address")
	}

	parts := []string{"02"}
	for i := 0; i < len(hex); i += 2 {
		parts = append(parts, hex[i:i+2])
	}
	return strings.Join(parts, ":"), nil
}
