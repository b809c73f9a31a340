package gstpipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/stream-supervisor/internal/faults"
)

func TestBuildRawCaps(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          string
	}{
		{"native", 0, 0, "video/x-raw,format=RGB"},
		{"720p", 1280, 720, "video/x-raw,format=RGB,width=1280,height=720"},
		{"half set keeps native", 640, 0, "video/x-raw,format=RGB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildRawCaps(tt.width, tt.height); got != tt.want {
				t.Errorf("buildRawCaps(%d, %d) = %q, want %q", tt.width, tt.height, got, tt.want)
			}
		})
	}
}

func TestCodecElements(t *testing.T) {
	tests := []struct {
		codec          string
		depay, decoder string
	}{
		{"h264", "rtph264depay", "avdec_h264"},
		{"H265", "rtph265depay", "avdec_h265"},
		{"mjpeg", "rtpjpegdepay", "jpegdec"},
		{"auto", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		depay, decoder := codecElements(tt.codec)
		if depay != tt.depay || decoder != tt.decoder {
			t.Errorf("codecElements(%q) = (%q, %q), want (%q, %q)",
				tt.codec, depay, decoder, tt.depay, tt.decoder)
		}
	}
}

func TestFatalError_Unwrap(t *testing.T) {
	err := &FatalError{Category: faults.Network, Message: ErrEndOfStream.Error(), Err: ErrEndOfStream}
	if !errors.Is(err, ErrEndOfStream) {
		t.Error("FatalError should unwrap to ErrEndOfStream")
	}
	if got := err.Error(); got != "pipeline error [network]: end of stream" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCreate_RequiresSource(t *testing.T) {
	if err := Available(); err != nil {
		t.Skipf("GStreamer not available: %v", err)
	}
	if _, err := Create(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

// TestWatch_TestSourceEOS runs a finite videotestsrc and expects EOS to be
// reported as fatal.
func TestWatch_TestSourceEOS(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping GStreamer pipeline test in short mode")
	}
	if err := Available(); err != nil {
		t.Skipf("GStreamer not available: %v", err)
	}

	elements, err := Create(Config{Launch: "videotestsrc num-buffers=5", Width: 64, Height: 48})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	defer Destroy(elements)

	frames := make(chan Sample, 8)
	Attach(elements, 64, 48, func(s Sample) {
		select {
		case frames <- s:
		default:
		}
	})
	if err := Play(elements); err != nil {
		t.Fatalf("Play() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = Watch(ctx, elements, "videotestsrc", nil)
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Watch() = %v, want *FatalError", err)
	}
	if !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Watch() = %v, want end of stream", err)
	}

	select {
	case s := <-frames:
		if s.Width != 64 || s.Height != 48 || len(s.Data) != 64*48*3 {
			t.Errorf("sample = %dx%d (%d bytes), want 64x48 RGB", s.Width, s.Height, len(s.Data))
		}
		t.Logf("✅ Received %dx%d RGB sample before EOS", s.Width, s.Height)
	default:
		t.Error("no sample delivered before EOS")
	}
}
