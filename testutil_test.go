package onvif

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func highTier() QualityTier {
	return QualityTier{
		RTSPPath:  "/ch0",
		Width:     1920,
		Height:    1080,
		Framerate: 15,
		Bitrate:   2048,
	}.WithDefaults()
}

func lowTier() *QualityTier {
	low := QualityTier{
		RTSPPath:  "/ch0/sub",
		Width:     640,
		Height:    360,
		Framerate: 10,
		Bitrate:   512,
	}.WithDefaults()
	return &low
}

func testIdentity() DeviceIdentity {
	return DeviceIdentity{
		MAC:               "02:00:00:00:00:01",
		HostIP:            "10.0.0.5",
		UUID:              "1714a629-ebe5-4bb8-a430-c18ffd8fa5f6",
		Name:              "Front Door",
		ServerPort:        8081,
		RTSPProxyPort:     8554,
		SnapshotProxyPort: 8580,
	}
}

func testTarget() TargetEndpoint {
	return TargetEndpoint{Hostname: "camera.local", RTSPPort: 554, SnapshotPort: 80}
}

func testConfig(name, uuid string) DeviceConfig {
	return DeviceConfig{
		MAC:               "02:00:00:00:00:01",
		UUID:              uuid,
		Name:              name,
		ServerPort:        0,
		RTSPProxyPort:     8554,
		SnapshotProxyPort: 8580,
		High:              highTier(),
		Low:               lowTier(),
		Target:            testTarget(),
	}
}

func loopback(string) (string, error) {
	return "127.0.0.1", nil
}

// newTestDevice creates an unstarted virtual device on the loopback address
func newTestDevice(t *testing.T, name, uuid string) *VirtualDevice {
	t.Helper()
	device, err := NewVirtualDevice(testConfig(name, uuid), false, loopback, nopLogger())
	require.NoError(t, err)
	return device
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}
