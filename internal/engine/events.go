package engine

import (
	"encoding/json"
	"time"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// event builds the bus envelope for a committed transition. Payloads are
// plain maps; marshal failures cannot occur for the value kinds used here.
func (e *Engine) event(kind string, at time.Time, payload map[string]any) domain.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return domain.Event{
		Kind:      kind,
		Seq:       e.seq,
		Payload:   raw,
		Timestamp: at,
	}
}
