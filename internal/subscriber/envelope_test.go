package subscriber

import (
	"encoding/json"
	"testing"

	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeShapeForGeneration(t *testing.T) {
	ev := &eventdomain.Event{
		EventID:   "sha-1",
		ProjectID: 7,
		Body:      []byte(`{"categoryName":"CREATION","id":"sha-1"}`),
	}

	raw, err := buildEnvelope(CategoryAwaitingGeneration, ev, "group/proj")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "AWAITING_GENERATION", decoded["categoryName"])
	assert.Equal(t, "sha-1", decoded["id"])
	project := decoded["project"].(map[string]any)
	assert.Equal(t, float64(7), project["id"])
	assert.Equal(t, "group/proj", project["slug"])
	assert.Contains(t, decoded, "body")
	assert.NotContains(t, decoded, "payload")
	assert.NotContains(t, decoded, "schemaVersion")
}

func TestEnvelopeCarriesDecompressedPayloadForTransformation(t *testing.T) {
	schema := "9"
	triples := []byte(`[{"s":"a","p":"b","o":"c"}]`)
	ev := &eventdomain.Event{
		EventID:              "sha-1",
		ProjectID:            7,
		Body:                 []byte(`{}`),
		Payload:              eventdomain.CompressPayload(triples),
		PayloadSchemaVersion: &schema,
	}

	raw, err := buildEnvelope(CategoryTriplesGenerated, ev, "group/proj")
	require.NoError(t, err)

	var decoded struct {
		CategoryName  string          `json:"categoryName"`
		Payload       json.RawMessage `json:"payload"`
		SchemaVersion string          `json:"schemaVersion"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "TRIPLES_GENERATED", decoded.CategoryName)
	assert.JSONEq(t, string(triples), string(decoded.Payload))
	assert.Equal(t, "9", decoded.SchemaVersion)
}
