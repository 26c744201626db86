package baker

import (
	"encoding/json"
	"io"
	"strings"
)

// Progress is a converter progress report, exchanged as one JSON object
// per line on the converter's standard output.
type Progress struct {
	Value   int `json:"value"`
	Maximum int `json:"maximum"`
}

// WriteProgress writes a progress line.
func WriteProgress(w io.Writer, value, maximum int) error {
	data, err := json.Marshal(Progress{Value: value, Maximum: maximum})
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// ParseProgress recognizes a progress line. Other output lines return
// false.
func ParseProgress(line string) (Progress, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Progress{}, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Progress{}, false
	}
	if _, ok := raw["value"]; !ok {
		return Progress{}, false
	}
	if _, ok := raw["maximum"]; !ok {
		return Progress{}, false
	}
	var p Progress
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return Progress{}, false
	}
	return p, true
}
