package observability

import (
	"testing"

	"github.com/lineagelab/eventline/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigProtocolDefaultsToGRPC(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "")

	loaded := LoadConfig(config.Config{})
	assert.Equal(t, "grpc", loaded.OtelExporterProtocol)
}

func TestLoadConfigTracesProtocolWins(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP/Protobuf")

	loaded := LoadConfig(config.Config{})
	assert.Equal(t, "http/protobuf", loaded.OtelExporterProtocol)
}
