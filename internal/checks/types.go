package checks

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusOkay        Status = "Okay"
	StatusInvalidJSON Status = "Invalid JSON"
	StatusFailed      Status = "Failed"
)

// Result is the outcome of one probe. Response always holds valid JSON: the
// endpoint's own document for StatusOkay, otherwise a JSON string.
type Result struct {
	Name      string          `json:"name"`
	Status    Status          `json:"status"`
	Response  json.RawMessage `json:"response"`
	TimeTaken string          `json:"timeTaken"`

	Latency time.Duration `json:"-"`
}

// FormatTimeTaken renders d as seconds with two decimals, e.g. "1.23s".
func FormatTimeTaken(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func stringResponse(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		// strings always marshal; invalid UTF-8 is coerced, not rejected
		return json.RawMessage(`""`)
	}
	return b
}
