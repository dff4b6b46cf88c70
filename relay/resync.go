package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Dhanush010/Syncscribe/metrics"
	"github.com/Dhanush010/Syncscribe/protocol"
)

// EmptyDelta is the content of DOC_SYNC for a document with nothing stored
// yet: a single empty line, never an absent field.
var EmptyDelta = json.RawMessage(`{"ops":[{"insert":"\n"}]}`)

// ResolveContent turns stored document content into DOC_SYNC content.
// A stored delta is sent as structured JSON, any other non-blank content as
// a JSON string, and blank content as EmptyDelta.
func ResolveContent(content string) (json.RawMessage, protocol.ContentFormat) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return EmptyDelta, protocol.FormatEmpty
	}

	if trimmed[0] == '{' {
		var delta struct {
			Ops []json.RawMessage `json:"ops"`
		}
		if err := json.Unmarshal([]byte(trimmed), &delta); err == nil && delta.Ops != nil {
			var compact bytes.Buffer
			if err := json.Compact(&compact, []byte(trimmed)); err == nil {
				return compact.Bytes(), protocol.FormatDelta
			}
		}
	}

	text, err := json.Marshal(content)
	if err != nil {
		return EmptyDelta, protocol.FormatEmpty
	}
	return text, protocol.FormatText
}

// fetchSync reads the latest persisted content of docID and encodes the
// DOC_SYNC frame for it. The store is always consulted; content is never cached.
func (e *Engine) fetchSync(ctx context.Context, docID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	start := time.Now()
	doc, err := e.documents.GetDocument(ctx, docID)
	metrics.ResyncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	content, format := ResolveContent(doc.Content)
	data, err := protocol.Encode(protocol.NewDocSync(docID, content, format))
	if err != nil {
		return nil, fmt.Errorf("encode sync for %s: %w", docID, err)
	}
	return data, nil
}
