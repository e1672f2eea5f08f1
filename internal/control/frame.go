package control

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// Delimiter terminates every frame. A bare CR pair cannot occur inside a
// JSON document produced by encoding/json.
const Delimiter = "\r\r"

// MaxFrameSize bounds a single request or response.
const MaxFrameSize = 4 << 20

var delim = []byte(Delimiter)

// ScanFrames is a bufio.SplitFunc yielding frames without their delimiter.
// Trailing bytes without a delimiter at EOF are dropped.
func ScanFrames(data []byte, _ bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, delim); i >= 0 {
		return i + len(delim), data[:i], nil
	}
	return 0, nil, nil
}

// NewScanner returns a scanner reading frames from r.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	sc.Split(ScanFrames)
	return sc
}

// WriteFrame encodes v as JSON and writes it followed by the delimiter.
func WriteFrame(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, delim...)
	_, err = w.Write(b)
	return err
}

// Request is the client-to-server message.
type Request struct {
	Action  string `json:"action"`
	Payload any    `json:"payload"`
}

// Response carries either a payload or an error.
type Response struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *string         `json:"error,omitempty"`
}
