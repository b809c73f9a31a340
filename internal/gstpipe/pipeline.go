// Package gstpipe builds and watches the GStreamer pipelines behind the
// pipeline backend.
package gstpipe

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// sinkName is the appsink name used to locate the sink in launch-string pipelines.
const sinkName = "videowall_sink"

// rtspsrc "protocols" flags (GstRTSPLowerTrans)
const (
	rtspProtoUDPMcast = 2
	rtspProtoTCP      = 4
)

// Config contains configuration for GStreamer pipeline creation
type Config struct {
	// URI is the source address (rtsp://, http://, udp://, file://).
	URI string
	// Launch is a gst-launch description used instead of URI. It must end
	// in an element producing decoded (raw) video.
	Launch string
	// Codec picks the RTSP depayloader/decoder pair: h264, h265, mjpeg or
	// auto (decodebin).
	Codec string
	// Width and Height scale the output. Zero keeps the source size.
	Width  int
	Height int
	// LatencyMS is the rtspsrc jitter buffer. Zero uses 200ms.
	LatencyMS int
	// Multicast requests UDP multicast transport for RTSP.
	Multicast bool
}

// Elements holds references to GStreamer pipeline elements needed for
// callbacks and cleanup.
type Elements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

var (
	initOnce     sync.Once
	availableErr error
)

// Available initializes GStreamer once and verifies it can create elements.
func Available() error {
	initOnce.Do(func() {
		gst.Init(nil)

		elem, err := gst.NewElement("fakesrc")
		if err != nil {
			availableErr = fmt.Errorf("GStreamer not available or not properly installed: %w", err)
			return
		}
		elem.SetState(gst.StateNull)
	})
	return availableErr
}

// Create builds the pipeline for cfg. The pipeline is configured but NOT
// started (state remains NULL).
//
// Pipeline structure:
//
//	launch:  <cfg.Launch> ! videoconvert ! videoscale ! capsfilter ! appsink
//	rtsp:    rtspsrc → depay → decoder → videoconvert → videoscale → capsfilter → appsink
//	rtsp:    rtspsrc → decodebin → videoconvert → ...           (codec auto)
//	other:   uridecodebin → videoconvert → videoscale → capsfilter → appsink
func Create(cfg Config) (*Elements, error) {
	if err := Available(); err != nil {
		return nil, err
	}

	if cfg.Launch != "" {
		return createFromLaunch(cfg)
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("gstpipe: URI or launch description required")
	}
	if strings.HasPrefix(strings.ToLower(cfg.URI), "rtsp://") || strings.HasPrefix(strings.ToLower(cfg.URI), "rtsps://") {
		return createRTSP(cfg)
	}
	return createURIDecode(cfg)
}

// Destroy sets the pipeline to NULL and releases its resources.
// Safe to call with nil.
func Destroy(elements *Elements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// Play moves the pipeline to PLAYING.
func Play(elements *Elements) error {
	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	return nil
}

// buildRawCaps builds the caps string of the final capsfilter.
func buildRawCaps(width, height int) string {
	if width > 0 && height > 0 {
		return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height)
	}
	return "video/x-raw,format=RGB"
}

func createFromLaunch(cfg Config) (*Elements, error) {
	desc := fmt.Sprintf(`%s ! videoconvert ! videoscale ! capsfilter caps="%s" ! appsink name=%s`,
		cfg.Launch, buildRawCaps(cfg.Width, cfg.Height), sinkName)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse launch description: %w", err)
	}

	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return nil, fmt.Errorf("appsink not found in launch pipeline: %w", err)
	}
	appsink := app.SinkFromElement(elem)
	configureSink(appsink)

	slog.Debug("gstpipe: launch pipeline created", "description", desc)
	return &Elements{Pipeline: pipeline, AppSink: appsink}, nil
}

// tail creates videoconvert → videoscale → capsfilter → appsink, adds them to
// the pipeline and links them. It returns the head (videoconvert) and sink.
func tail(pipeline *gst.Pipeline, cfg Config) (*gst.Element, *app.Sink, error) {
	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0) // 0 = auto-detect cores

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildRawCaps(cfg.Width, cfg.Height)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	configureSink(appsink)

	if err := pipeline.AddMany(converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to add output elements: %w", err)
	}
	if err := gst.ElementLinkMany(converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to link output elements: %w", err)
	}
	return converter, appsink, nil
}

func configureSink(appsink *app.Sink) {
	appsink.SetProperty("sync", false)    // No sync with clock (real-time)
	appsink.SetProperty("max-buffers", 1) // Keep only latest frame
	appsink.SetProperty("drop", true)     // Drop old frames
}

func createRTSP(cfg Config) (*Elements, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", cfg.URI)
	if cfg.Multicast {
		rtspsrc.SetProperty("protocols", rtspProtoUDPMcast)
	} else {
		rtspsrc.SetProperty("protocols", rtspProtoTCP)
	}
	latency := cfg.LatencyMS
	if latency <= 0 {
		latency = 200
	}
	rtspsrc.SetProperty("latency", latency)
	rtspsrc.SetProperty("ntp-sync", false)
	rtspsrc.SetProperty("tcp-timeout", uint64(10000000)) // 10s

	head, appsink, err := tail(pipeline, cfg)
	if err != nil {
		return nil, err
	}
	if err := pipeline.Add(rtspsrc); err != nil {
		return nil, fmt.Errorf("failed to add rtspsrc: %w", err)
	}

	depayName, decoderName := codecElements(cfg.Codec)
	if depayName == "" {
		// Codec auto: rtspsrc → decodebin → videoconvert, both links dynamic.
		decodebin, err := gst.NewElement("decodebin")
		if err != nil {
			return nil, fmt.Errorf("failed to create decodebin: %w", err)
		}
		if err := pipeline.Add(decodebin); err != nil {
			return nil, fmt.Errorf("failed to add decodebin: %w", err)
		}
		linkOnPadAdded(rtspsrc, decodebin, false)
		linkOnPadAdded(decodebin, head, true)
	} else {
		depay, err := gst.NewElement(depayName)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", depayName, err)
		}
		if depayName == "rtph264depay" || depayName == "rtph265depay" {
			// Request keyframes on packet loss for faster recovery
			depay.SetProperty("request-keyframe", true)
		}
		decoder, err := gst.NewElement(decoderName)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", decoderName, err)
		}
		if err := pipeline.AddMany(depay, decoder); err != nil {
			return nil, fmt.Errorf("failed to add decode elements: %w", err)
		}
		if err := gst.ElementLinkMany(depay, decoder, head); err != nil {
			return nil, fmt.Errorf("failed to link decode elements: %w", err)
		}
		linkOnPadAdded(rtspsrc, depay, false)
	}

	slog.Debug("gstpipe: rtsp pipeline created",
		"uri", cfg.URI,
		"codec", cfg.Codec,
		"latency_ms", latency,
		"multicast", cfg.Multicast,
	)
	return &Elements{Pipeline: pipeline, AppSink: appsink}, nil
}

func createURIDecode(cfg Config) (*Elements, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	source, err := gst.NewElement("uridecodebin")
	if err != nil {
		return nil, fmt.Errorf("failed to create uridecodebin: %w", err)
	}
	source.SetProperty("uri", cfg.URI)

	head, appsink, err := tail(pipeline, cfg)
	if err != nil {
		return nil, err
	}
	if err := pipeline.Add(source); err != nil {
		return nil, fmt.Errorf("failed to add uridecodebin: %w", err)
	}
	linkOnPadAdded(source, head, true)

	slog.Debug("gstpipe: uridecodebin pipeline created", "uri", cfg.URI)
	return &Elements{Pipeline: pipeline, AppSink: appsink}, nil
}

// codecElements returns the RTP depayloader and decoder factory names.
// Empty names mean "let decodebin decide".
func codecElements(codec string) (depay, decoder string) {
	switch strings.ToLower(codec) {
	case "h264":
		return "rtph264depay", "avdec_h264"
	case "h265":
		return "rtph265depay", "avdec_h265"
	case "mjpeg":
		return "rtpjpegdepay", "jpegdec"
	default:
		return "", ""
	}
}
