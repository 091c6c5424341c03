package onvif

import (
	"fmt"

	"github.com/juju/errors"
)

// MediaAPI is the ONVIF Media service contract
type MediaAPI interface {
	GetProfiles() []StreamProfile
	GetProfile(token string) (StreamProfile, error)
	GetVideoSources() []VideoSource
	GetVideoSourceConfigurations() []VideoSourceConfiguration
	GetVideoEncoderConfigurations() []EncoderConfiguration
	GetStreamUri(profileToken string) MediaURI
	GetSnapshotUri(profileToken string) MediaURI
}

// MediaService implements MediaAPI for one virtual device. All state is
// fixed at construction.
type MediaService struct {
	identity   DeviceIdentity
	high       QualityTier
	low        *QualityTier
	target     TargetEndpoint
	directURLs bool

	source   VideoSource
	profiles []StreamProfile
}

// NewMediaService builds the profiles of a device and returns its media service
func NewMediaService(identity DeviceIdentity, high QualityTier, low *QualityTier, target TargetEndpoint, directURLs bool) *MediaService {
	source, profiles := BuildProfiles(high, low)
	return &MediaService{
		identity:   identity,
		high:       high,
		low:        low,
		target:     target,
		directURLs: directURLs,
		source:     source,
		profiles:   profiles,
	}
}

// GetProfiles returns MainStream and, if configured, SubStream
func (s *MediaService) GetProfiles() []StreamProfile {
	profiles := make([]StreamProfile, len(s.profiles))
	copy(profiles, s.profiles)
	return profiles
}

// GetProfile returns the profile with the given token
func (s *MediaService) GetProfile(token string) (StreamProfile, error) {
	for _, profile := range s.profiles {
		if profile.Token == token {
			return profile, nil
		}
	}
	return StreamProfile{}, errors.NotFoundf("profile %q", token)
}

// GetVideoSources returns the single video source
func (s *MediaService) GetVideoSources() []VideoSource {
	return []VideoSource{s.source}
}

// GetVideoSourceConfigurations returns the shared source configuration
func (s *MediaService) GetVideoSourceConfigurations() []VideoSourceConfiguration {
	return []VideoSourceConfiguration{s.profiles[0].VideoSourceConfig}
}

// GetVideoEncoderConfigurations returns one encoder configuration per profile
func (s *MediaService) GetVideoEncoderConfigurations() []EncoderConfiguration {
	configs := make([]EncoderConfiguration, 0, len(s.profiles))
	for _, profile := range s.profiles {
		configs = append(configs, profile.EncoderConfiguration)
	}
	return configs
}

// GetStreamUri resolves the RTSP URI of a profile, pointing either at the
// real target or at the relay on the virtual device
func (s *MediaService) GetStreamUri(profileToken string) MediaURI {
	path := s.tier(profileToken).RTSPPath

	var uri string
	if s.directURLs {
		uri = fmt.Sprintf("rtsp://%s:%d%s", s.target.Hostname, s.target.RTSPPort, path)
	} else {
		uri = fmt.Sprintf("rtsp://%s:%d%s", s.identity.HostIP, s.identity.RTSPProxyPort, path)
	}

	return newMediaURI(uri)
}

// GetSnapshotUri resolves the snapshot URI of a profile. Without a
// configured snapshot path, or without a port to reach it on, the built-in
// placeholder image is returned.
func (s *MediaService) GetSnapshotUri(profileToken string) MediaURI {
	path := s.tier(profileToken).SnapshotPath
	if path == "" || s.target.SnapshotPort == 0 {
		return newMediaURI(s.identity.serviceURL(SnapshotPath))
	}

	var uri string
	switch {
	case s.directURLs:
		uri = fmt.Sprintf("http://%s:%d%s", s.target.Hostname, s.target.SnapshotPort, path)
	case s.identity.SnapshotProxyPort == 0:
		// no snapshot relay runs for this device
		return newMediaURI(s.identity.serviceURL(SnapshotPath))
	default:
		uri = fmt.Sprintf("http://%s:%d%s", s.identity.HostIP, s.identity.SnapshotProxyPort, path)
	}

	return newMediaURI(uri)
}

func (s *MediaService) tier(profileToken string) QualityTier {
	if profileToken == SubStreamToken && s.low != nil {
		return *s.low
	}
	return s.high
}

func newMediaURI(uri string) MediaURI {
	return MediaURI{
		URI:                 uri,
		InvalidAfterConnect: false,
		InvalidAfterReboot:  false,
		Timeout:             mediaURITimeout,
	}
}
