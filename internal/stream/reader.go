package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/r3labs/sse/v2"
)

const maxFrameSize = 1 << 20

// RemoteError is an error frame received from the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

type Reader struct {
	events *sse.EventStreamReader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{events: sse.NewEventStreamReader(r, maxFrameSize)}
}

// Next returns the next frame, or io.EOF once the stream is closed. Comment
// and keep-alive events are skipped.
func (r *Reader) Next() (Frame, error) {
	for {
		raw, err := r.events.ReadEvent()
		if err != nil {
			return Frame{}, err
		}
		frame, ok, err := parseFrame(raw)
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return frame, nil
		}
	}
}

func parseFrame(raw []byte) (Frame, bool, error) {
	frame := Frame{Event: "message"}
	var (
		data     [][]byte
		hasEvent bool
	)
	for _, line := range bytes.Split(bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n")), []byte("\n")) {
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			frame.Event = string(value)
			hasEvent = true
		case "data":
			data = append(data, value)
		}
	}
	if len(data) == 0 {
		return frame, hasEvent, nil
	}
	if err := json.Unmarshal(bytes.Join(data, []byte("\n")), &frame.Data); err != nil {
		return Frame{}, false, fmt.Errorf("decode %s frame: %w", frame.Event, err)
	}
	return frame, true, nil
}

// Chunks yields the message of every answer frame in r. An error frame ends
// the sequence with a *RemoteError.
func Chunks(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reader := NewReader(r)
		for {
			frame, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			switch frame.Event {
			case EventAnswer:
				if !yield(frame.Data.Message, nil) {
					return
				}
			case EventError:
				yield("", &RemoteError{Code: frame.Data.ErrorCode, Message: frame.Data.Message})
				return
			}
		}
	}
}
