package gstpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/stream-supervisor/internal/faults"
	"github.com/tinyzimmer/go-gst/gst"
)

// ErrEndOfStream is reported when the pipeline posts EOS.
var ErrEndOfStream = errors.New("end of stream")

// FatalError is a pipeline error posted on the bus, already classified.
type FatalError struct {
	Category faults.Category
	Message  string
	Debug    string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Watch polls the pipeline bus until an ERROR or EOS message arrives or ctx is
// cancelled. Every ERROR and EOS is fatal and returned as *FatalError. nil is
// returned on cancellation. onPlaying, if set, runs once when the pipeline
// reaches PLAYING.
func Watch(ctx context.Context, elements *Elements, source string, onPlaying func()) error {
	if elements == nil || elements.Pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	pipeline := elements.Pipeline
	bus := pipeline.GetPipelineBus()
	startedAt := time.Now()
	playing := false

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstpipe: context cancelled, stopping bus watch", "source", source)
			return nil

		default:
			// Poll for messages with short timeout for responsive shutdown
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				slog.Info("gstpipe: end of stream received",
					"source", source,
					"uptime", time.Since(startedAt),
				)
				return &FatalError{
					Category: faults.Network,
					Message:  ErrEndOfStream.Error(),
					Err:      ErrEndOfStream,
				}

			case gst.MessageError:
				gerr := msg.ParseError()
				category := faults.Classify(gerr.Error(), gerr.DebugString())

				slog.Error("gstpipe: pipeline error",
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
					"category", category.String(),
					"source", source,
					"uptime", time.Since(startedAt),
				)
				return &FatalError{
					Category: category,
					Message:  gerr.Error(),
					Debug:    gerr.DebugString(),
				}

			case gst.MessageWarning:
				gerr := msg.ParseWarning()
				slog.Warn("gstpipe: pipeline warning",
					"warning", gerr.Error(),
					"source", source,
				)

			case gst.MessageStateChanged:
				if msg.Source() == pipeline.GetName() {
					old, new := msg.ParseStateChanged()
					slog.Debug("gstpipe: pipeline state changed",
						"from", old,
						"to", new,
					)
					if new == gst.StatePlaying && !playing {
						playing = true
						if onPlaying != nil {
							onPlaying()
						}
					}
				}
			}
		}
	}
}
