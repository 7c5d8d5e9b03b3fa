// Package stream carries answer chunks to HTTP clients as server-sent
// events and reads them back on the client side.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"github.com/duckmesh/askdb/internal/observability"
)

const (
	EventAnswer = "answer"
	EventError  = "error"

	ContentType = "text/event-stream"
)

type Message struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

type Frame struct {
	Event string
	Data  Message
}

// Frames maps every chunk to one answer frame, in order. Errors from seq are
// passed through and end the sequence.
func Frames(seq iter.Seq2[string, error]) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for chunk, err := range seq {
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if !yield(Frame{Event: EventAnswer, Data: Message{Message: chunk}}, nil) {
				return
			}
		}
	}
}

func ErrorFrame(code string, err error) Frame {
	return Frame{Event: EventError, Data: Message{Message: err.Error(), ErrorCode: code}}
}

// Writer writes frames to an HTTP response. Headers are sent with the first
// frame.
type Writer struct {
	w          http.ResponseWriter
	controller *http.ResponseController
	started    bool
}

func NewWriter(w http.ResponseWriter) *Writer {
	return &Writer{w: w, controller: http.NewResponseController(w)}
}

func (w *Writer) Started() bool {
	return w.started
}

// Start sends the event-stream headers once.
func (w *Writer) Start() {
	if w.started {
		return
	}
	header := w.w.Header()
	header.Set("Content-Type", ContentType)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.w.WriteHeader(http.StatusOK)
	w.started = true
}

func (w *Writer) WriteFrame(frame Frame) error {
	payload, err := json.Marshal(frame.Data)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	w.Start()
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", frame.Event, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := w.controller.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush frame: %w", err)
	}
	observability.IncrementStreamFrame(frame.Event)
	return nil
}

// Serve pulls chunks from seq and writes one frame per chunk. When seq fails
// before the first frame nothing is written and the error is returned so the
// caller can still send an error response. An empty answer still opens the
// stream. A later failure is reported with
// one error frame, labelled by errorCode, and ends the stream. Serve stops
// pulling as soon as ctx is done or a write fails.
func Serve(ctx context.Context, w http.ResponseWriter, seq iter.Seq2[string, error], errorCode func(error) string) (int, error) {
	writer := NewWriter(w)
	frames := 0
	for frame, err := range Frames(seq) {
		if err != nil {
			if !writer.Started() {
				return 0, err
			}
			code := ""
			if errorCode != nil {
				code = errorCode(err)
			}
			_ = writer.WriteFrame(ErrorFrame(code, err))
			return frames, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return frames, ctxErr
		}
		if err := writer.WriteFrame(frame); err != nil {
			return frames, err
		}
		frames++
	}
	if !writer.Started() {
		writer.Start()
		if err := writer.controller.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return 0, fmt.Errorf("flush stream: %w", err)
		}
	}
	return frames, nil
}
