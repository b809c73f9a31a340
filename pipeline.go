package streamsupervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/stream-supervisor/internal/faults"
	"github.com/e7canasta/stream-supervisor/internal/gstpipe"
)

// PipelineManager plays a descriptor through a GStreamer decode pipeline.
//
// The pipeline is built, played and watched on its own goroutine. Any bus
// ERROR or EOS is fatal: the manager never reconnects by itself, that is the
// Supervisor's decision.
type PipelineManager struct {
	*managerState

	cfg    gstpipe.Config
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipelineManager validates desc and returns an unstarted manager.
func NewPipelineManager(desc StreamDescriptor) (*PipelineManager, error) {
	if desc.URI == "" && desc.Pipeline == "" {
		return nil, fmt.Errorf("stream-supervisor: candidate %s has neither URI nor pipeline", desc.DisplayLabel())
	}

	width, height := desc.Resolution.Dimensions()
	ctx, cancel := context.WithCancel(context.Background())

	p := &PipelineManager{
		managerState: newManagerState(desc),
		cfg: gstpipe.Config{
			URI:       desc.URI,
			Launch:    desc.Pipeline,
			Codec:     string(desc.Codec),
			Width:     width,
			Height:    height,
			LatencyMS: desc.LatencyMS,
			Multicast: desc.Multicast,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.self = p
	return p, nil
}

// Start launches the pipeline goroutine. Non-blocking and idempotent.
func (p *PipelineManager) Start() {
	if p.stopped.Load() || !p.started.CompareAndSwap(false, true) {
		return
	}

	slog.Info("stream-supervisor: starting pipeline backend",
		"manager", p.id,
		"label", p.desc.DisplayLabel(),
		"uri", p.desc.URI,
		"codec", p.desc.Codec,
		"resolution", p.desc.Resolution.String(),
	)
	go p.run()
}

// Stop cancels the pipeline goroutine. The pipeline is set to NULL on that
// goroutine, never on the caller's.
func (p *PipelineManager) Stop() {
	if !p.markStopped() {
		return
	}
	p.cancel()
	if !p.started.Load() {
		return
	}
	slog.Debug("stream-supervisor: pipeline teardown scheduled", "manager", p.id)
}

// Done is closed once the pipeline goroutine has released GStreamer resources.
// It stays open forever for a manager that was never started.
func (p *PipelineManager) Done() <-chan struct{} {
	return p.done
}

func (p *PipelineManager) run() {
	defer close(p.done)

	elements, err := gstpipe.Create(p.cfg)
	if err != nil {
		p.fail(err, faults.ClassifyError(err))
		return
	}
	defer func() {
		start := time.Now()
		if err := gstpipe.Destroy(elements); err != nil {
			slog.Warn("stream-supervisor: pipeline teardown failed", "manager", p.id, "error", err)
			return
		}
		slog.Debug("stream-supervisor: pipeline released", "manager", p.id, "took", time.Since(start))
	}()

	if p.ctx.Err() != nil {
		return
	}

	gstpipe.Attach(elements, p.cfg.Width, p.cfg.Height, func(s gstpipe.Sample) {
		p.recordFrame(Frame{Width: s.Width, Height: s.Height, Data: s.Data})
	})

	if err := gstpipe.Play(elements); err != nil {
		p.fail(err, faults.ClassifyError(err))
		return
	}

	err = gstpipe.Watch(p.ctx, elements, p.desc.DisplayLabel(), nil)
	if err == nil {
		return
	}
	var fatal *gstpipe.FatalError
	if errors.As(err, &fatal) {
		p.fail(err, fatal.Category)
		return
	}
	p.fail(err, faults.Unknown)
}
