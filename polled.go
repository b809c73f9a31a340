package streamsupervisor

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/e7canasta/stream-supervisor/internal/faults"
	"github.com/e7canasta/stream-supervisor/internal/retry"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultPollPeriod is the refresh period of a polled descriptor without a
// latency hint.
const DefaultPollPeriod = time.Second

// maxSnapshotBytes bounds a single still-image response.
const maxSnapshotBytes = 32 << 20

// errStatus is a non-200 snapshot response.
type errStatus struct {
	code int
}

func (e errStatus) Error() string {
	return fmt.Sprintf("snapshot request failed: HTTP %d %s", e.code, http.StatusText(e.code))
}

// PolledManager refreshes a still image from an HTTP endpoint at a fixed
// period. Consecutive failures are retried with exponential backoff; running
// out of retries, or an authentication failure, is fatal.
type PolledManager struct {
	*managerState

	client *resty.Client
	period time.Duration
	retry  retry.Config
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPolledManager validates desc and returns an unstarted manager.
func NewPolledManager(desc StreamDescriptor, opts FactoryOptions) (*PolledManager, error) {
	if desc.URI == "" {
		return nil, fmt.Errorf("stream-supervisor: polled candidate %s has no URI", desc.DisplayLabel())
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	client := resty.NewWithClient(hc)
	client.SetHeader("Accept", "image/*")
	client.SetHeader("User-Agent", "videowall-poller")
	period := DefaultPollPeriod
	if desc.LatencyMS > 0 {
		period = time.Duration(desc.LatencyMS) * time.Millisecond
	}
	cfg := retry.DefaultConfig()
	if opts.PollMaxRetries > 0 {
		cfg.MaxRetries = opts.PollMaxRetries
	}
	if opts.PollRetryDelay > 0 {
		cfg.RetryDelay = opts.PollRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PolledManager{
		managerState: newManagerState(desc),
		client:       client,
		period:       period,
		retry:        cfg,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	p.self = p
	return p, nil
}

// Start launches the polling goroutine. Non-blocking and idempotent.
func (p *PolledManager) Start() {
	if p.stopped.Load() || !p.started.CompareAndSwap(false, true) {
		return
	}

	slog.Info("stream-supervisor: starting polled backend",
		"manager", p.id,
		"label", p.desc.DisplayLabel(),
		"uri", p.desc.URI,
		"period", p.period,
	)
	go p.run()
}

// Stop cancels polling, including any in-flight request.
func (p *PolledManager) Stop() {
	if !p.markStopped() {
		return
	}
	p.cancel()
}

// Done is closed once the polling goroutine has exited. It stays open forever
// for a manager that was never started.
func (p *PolledManager) Done() <-chan struct{} {
	return p.done
}

func (p *PolledManager) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		err := retry.Run(p.ctx, p.retry, p.fetch)
		if p.ctx.Err() != nil {
			return
		}
		if err != nil {
			p.fail(err, classifyPollError(err))
			return
		}

		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// fetch performs one GET and decodes the body into a frame.
func (p *PolledManager) fetch(ctx context.Context) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(p.desc.URI)
	if err != nil {
		return err
	}
	body := resp.RawBody()
	defer body.Close()

	if code := resp.StatusCode(); code != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(body, 4096))
		err := errStatus{code: code}
		if faults.ClassifyHTTPStatus(code) == faults.Auth {
			return retry.Permanent(err)
		}
		return err
	}

	img, format, err := image.Decode(io.LimitReader(body, maxSnapshotBytes))
	if err != nil {
		return fmt.Errorf("snapshot decode failed: %w", err)
	}

	bounds := img.Bounds()
	p.recordFrame(Frame{Width: bounds.Dx(), Height: bounds.Dy(), Img: img})
	slog.Debug("stream-supervisor: snapshot decoded",
		"manager", p.id,
		"format", format,
		"width", bounds.Dx(),
		"height", bounds.Dy(),
	)
	return nil
}

func classifyPollError(err error) faults.Category {
	var status errStatus
	if errors.As(err, &status) {
		return faults.ClassifyHTTPStatus(status.code)
	}
	if errors.Is(err, image.ErrFormat) {
		return faults.Codec
	}
	return faults.ClassifyError(err)
}
