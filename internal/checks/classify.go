package checks

import (
	"bytes"
	"encoding/json"
)

// Classify decides the status of a loaded page from its body text.
func Classify(body string) (Status, json.RawMessage) {
	if json.Valid([]byte(body)) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(body)); err == nil {
			return StatusOkay, buf.Bytes()
		}
	}
	return StatusInvalidJSON, stringResponse(body)
}
