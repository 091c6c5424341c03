package onvif

import (
	_ "embed"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

//go:embed assets/snapshot.png
var placeholderSnapshot []byte

// operation writes the result of one SOAP operation into its response element
type operation func(req *soapRequest, resp *etree.Element) error

func deviceOperations(api DeviceAPI) map[string]operation {
	return map[string]operation{
		"GetSystemDateAndTime": func(_ *soapRequest, resp *etree.Element) error {
			writeSystemDateAndTime(resp, api.GetSystemDateAndTime())
			return nil
		},
		"GetCapabilities": func(req *soapRequest, resp *etree.Element) error {
			writeCapabilities(resp, api.GetCapabilities(req.param("Category")))
			return nil
		},
		"GetServices": func(_ *soapRequest, resp *etree.Element) error {
			writeServices(resp, api.GetServices())
			return nil
		},
		"GetDeviceInformation": func(_ *soapRequest, resp *etree.Element) error {
			writeDeviceInformation(resp, api.GetDeviceInformation())
			return nil
		},
		"GetHostname": func(_ *soapRequest, resp *etree.Element) error {
			writeHostname(resp, api.GetHostname())
			return nil
		},
		"GetScopes": func(_ *soapRequest, resp *etree.Element) error {
			writeScopes(resp, api.GetScopes())
			return nil
		},
	}
}

func mediaOperations(api MediaAPI) map[string]operation {
	return map[string]operation{
		"GetProfiles": func(_ *soapRequest, resp *etree.Element) error {
			for _, profile := range api.GetProfiles() {
				writeProfile(resp, "trt:Profiles", profile)
			}
			return nil
		},
		"GetProfile": func(req *soapRequest, resp *etree.Element) error {
			profile, err := api.GetProfile(req.param("ProfileToken"))
			if err != nil {
				return err
			}
			writeProfile(resp, "trt:Profile", profile)
			return nil
		},
		"GetVideoSources": func(_ *soapRequest, resp *etree.Element) error {
			for _, source := range api.GetVideoSources() {
				writeVideoSource(resp, source)
			}
			return nil
		},
		"GetVideoSourceConfigurations": func(_ *soapRequest, resp *etree.Element) error {
			for _, config := range api.GetVideoSourceConfigurations() {
				writeVideoSourceConfiguration(resp, "trt:Configurations", config)
			}
			return nil
		},
		"GetVideoEncoderConfigurations": func(_ *soapRequest, resp *etree.Element) error {
			for _, config := range api.GetVideoEncoderConfigurations() {
				writeEncoderConfiguration(resp, "trt:Configurations", config)
			}
			return nil
		},
		"GetStreamUri": func(req *soapRequest, resp *etree.Element) error {
			writeMediaURI(resp, api.GetStreamUri(req.param("ProfileToken")))
			return nil
		},
		"GetSnapshotUri": func(req *soapRequest, resp *etree.Element) error {
			writeMediaURI(resp, api.GetSnapshotUri(req.param("ProfileToken")))
			return nil
		},
	}
}

// newRouter creates the HTTP handler of one virtual device
func newRouter(device DeviceAPI, media MediaAPI, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(requestLogger(logger), gin.CustomRecoveryWithWriter(io.Discard, recoverPanic(logger)))

	r.POST(DeviceServicePath, soapHandler("tds", deviceOperations(device), logger))
	r.POST(MediaServicePath, soapHandler("trt", mediaOperations(media), logger))
	r.GET(SnapshotPath, func(c *gin.Context) {
		c.Data(http.StatusOK, "image/png", placeholderSnapshot)
	})

	return r
}

func soapHandler(prefix string, ops map[string]operation, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := c.GetRawData()
		if err != nil {
			writeFault(c, http.StatusBadRequest, faultSender, "ter:WellFormed", err.Error())
			return
		}

		req, err := parseSOAPRequest(data)
		if err != nil {
			logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("Malformed SOAP request")
			writeFault(c, http.StatusBadRequest, faultSender, "ter:WellFormed", err.Error())
			return
		}
		c.Set("operation", req.Operation)

		op, ok := ops[req.Operation]
		if !ok {
			logger.Debug().Str("operation", req.Operation).Msg("Unsupported SOAP operation")
			writeFault(c, http.StatusInternalServerError, faultReceiver, "ter:ActionNotSupported",
				"operation "+req.Operation+" is not supported")
			return
		}

		doc, body := newEnvelope()
		if err := op(req, body.CreateElement(prefix+":"+req.Operation+"Response")); err != nil {
			writeFault(c, http.StatusBadRequest, faultSender, faultSubcode(err), err.Error())
			return
		}

		out, err := doc.WriteToBytes()
		if err != nil {
			logger.Error().Err(err).Str("operation", req.Operation).Msg("Failed to encode SOAP response")
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, soapContentType, out)
	}
}

func faultSubcode(err error) string {
	if errors.IsNotFound(err) {
		return "ter:NoProfile"
	}
	return "ter:InvalidArgVal"
}

func writeFault(c *gin.Context, status int, code, subcode, reason string) {
	out, err := buildFault(code, subcode, reason).WriteToBytes()
	if err != nil {
		c.Status(status)
		return
	}
	c.Data(status, soapContentType, out)
}

// recoverPanic logs a handler panic and answers with a receiver fault
func recoverPanic(logger zerolog.Logger) gin.RecoveryFunc {
	return func(c *gin.Context, err interface{}) {
		logger.Error().
			Interface("panic", err).
			Str("path", c.Request.URL.Path).
			Str("operation", c.GetString("operation")).
			Msg("Handler panicked")
		writeFault(c, http.StatusInternalServerError, faultReceiver, "", "internal error")
		c.Abort()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("client", c.ClientIP()).
			Dur("latency", time.Since(start))
		if op := c.GetString("operation"); op != "" {
			event = event.Str("operation", op)
		}
		event.Msg("Request")
	}
}
