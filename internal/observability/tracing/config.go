package tracing

import "strings"

// Config controls the OTLP trace exporter.
type Config struct {
	Enabled          bool
	ServiceName      string
	ServiceVersion   string
	Environment      string
	ExporterEndpoint string
	ExporterProtocol string
	SamplingRatio    float64
}

func (c Config) protocol() string {
	switch strings.ToLower(strings.TrimSpace(c.ExporterProtocol)) {
	case "http", "http/protobuf":
		return "http"
	default:
		return "grpc"
	}
}

func (c Config) samplingRatio() float64 {
	if c.SamplingRatio <= 0 || c.SamplingRatio > 1 {
		return 1
	}
	return c.SamplingRatio
}
