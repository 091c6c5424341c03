package onvif

import (
	"strings"
)

// WithDefaults returns a copy of the tier with codec, GOP length, codec
// profile and encoding interval filled in
func (t QualityTier) WithDefaults() QualityTier {
	if t.Codec == "" {
		t.Codec = CodecH264
	}
	if t.Quality == 0 {
		t.Quality = DefaultQuality
	}
	if t.GOPLength == 0 {
		t.GOPLength = t.Framerate
	}
	if t.EncodingInterval == 0 {
		t.EncodingInterval = 1
	}
	if t.CodecProfile == "" {
		t.CodecProfile = defaultCodecProfile(t.Codec)
	}
	return t
}

func defaultCodecProfile(codec string) string {
	switch strings.ToUpper(codec) {
	case CodecH264, CodecH265:
		return "Main"
	case CodecMPEG4:
		return "SP"
	}
	return ""
}

// BuildProfiles derives the video source and the stream profiles of a
// device. MainStream is always present, SubStream only with a low tier.
func BuildProfiles(high QualityTier, low *QualityTier) (VideoSource, []StreamProfile) {
	source := VideoSource{
		Token:     videoSourceToken,
		Framerate: high.Framerate,
		Resolution: Resolution{
			Width:  high.Width,
			Height: high.Height,
		},
	}

	// Both profiles share one source configuration whose bounds come from
	// the high tier, also for SubStream.
	sourceConfig := VideoSourceConfiguration{
		Token:       videoSourceConfigToken,
		Name:        "VideoSource",
		UseCount:    2,
		SourceToken: videoSourceToken,
		Bounds:      source.Resolution,
	}

	profiles := []StreamProfile{{
		Name:                 MainStreamName,
		Token:                MainStreamToken,
		VideoSourceConfig:    sourceConfig,
		EncoderConfiguration: buildEncoderConfiguration(highEncoderToken, "HighQuality", high),
	}}

	if low != nil {
		profiles = append(profiles, StreamProfile{
			Name:                 SubStreamName,
			Token:                SubStreamToken,
			VideoSourceConfig:    sourceConfig,
			EncoderConfiguration: buildEncoderConfiguration(lowEncoderToken, "LowQuality", *low),
		})
	}

	return source, profiles
}

func buildEncoderConfiguration(token, name string, tier QualityTier) EncoderConfiguration {
	config := EncoderConfiguration{
		Token:    token,
		Name:     name,
		UseCount: 1,
		Encoding: tier.Codec,
		Resolution: Resolution{
			Width:  tier.Width,
			Height: tier.Height,
		},
		Quality: tier.Quality,
		RateControl: RateControl{
			FrameRateLimit:   tier.Framerate,
			EncodingInterval: tier.EncodingInterval,
			BitrateLimit:     tier.Bitrate,
		},
		SessionTimeout: sessionTimeout,
	}

	options := &CodecOptions{GovLength: tier.GOPLength, Profile: tier.CodecProfile}
	switch strings.ToUpper(tier.Codec) {
	case CodecH264:
		config.H264 = options
	case CodecMPEG4:
		config.MPEG4 = options
	case CodecH265:
		config.H265 = options
	}

	return config
}
