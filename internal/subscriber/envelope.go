package subscriber

import (
	"encoding/json"

	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
)

// envelope is the wire contract subscribers consume. Field names and
// shape are fixed; consumers on other stacks parse this exactly.
type envelope struct {
	CategoryName  string          `json:"categoryName"`
	ID            string          `json:"id"`
	Project       envelopeProject `json:"project"`
	Body          json.RawMessage `json:"body,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SchemaVersion string          `json:"schemaVersion,omitempty"`
}

type envelopeProject struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
}

func buildEnvelope(category string, event *eventdomain.Event, slug string) ([]byte, error) {
	env := envelope{
		CategoryName: category,
		ID:           event.EventID,
		Project:      envelopeProject{ID: event.ProjectID, Slug: slug},
		Body:         json.RawMessage(event.Body),
	}

	if category == CategoryTriplesGenerated {
		payload, err := eventdomain.DecompressPayload(event.Payload)
		if err != nil {
			return nil, err
		}
		env.Payload = payload
		if event.PayloadSchemaVersion != nil {
			env.SchemaVersion = *event.PayloadSchemaVersion
		}
	}

	return json.Marshal(env)
}
