package streamsupervisor

import (
	"fmt"
	"strings"
)

// TransportKind selects the backend family a StreamDescriptor is played with.
type TransportKind string

const (
	// TransportPipeline is a native GStreamer decode pipeline (RTSP, RTP, HTTP, files).
	TransportPipeline TransportKind = "pipeline"
	// TransportPolled is an HTTP still-image endpoint polled at a fixed period.
	TransportPolled TransportKind = "polled"
)

// ParseTransportKind maps a configuration string to a TransportKind.
// Unknown values are returned as-is so the factory can reject them at play time.
func ParseTransportKind(s string) TransportKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pipeline", "gst", "gstreamer", "rtsp":
		return TransportPipeline
	case "polled", "http", "image", "snapshot":
		return TransportPolled
	default:
		return TransportKind(strings.ToLower(strings.TrimSpace(s)))
	}
}

// Codec is the encoded video format a pipeline descriptor expects.
type Codec string

const (
	// CodecAuto lets the pipeline pick a decoder (uridecodebin / decodebin).
	CodecAuto  Codec = "auto"
	CodecH264  Codec = "h264"
	CodecH265  Codec = "h265"
	CodecMJPEG Codec = "mjpeg"
)

// ParseCodec maps a configuration string to a Codec, defaulting to CodecAuto.
func ParseCodec(s string) Codec {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "avc":
		return CodecH264
	case "h265", "hevc":
		return CodecH265
	case "mjpeg", "jpeg", "mjpg":
		return CodecMJPEG
	default:
		return CodecAuto
	}
}

// Resolution represents supported output resolutions
type Resolution int

const (
	// ResNative keeps the source resolution (no scaling)
	ResNative Resolution = iota
	// Res480p represents 640x480 resolution (VGA)
	Res480p
	// Res512p represents 910x512 resolution
	Res512p
	// Res720p represents 1280x720 resolution (HD)
	Res720p
	// Res1080p represents 1920x1080 resolution (Full HD)
	Res1080p
)

// Dimensions returns the width and height for the resolution.
// ResNative returns 0, 0.
func (r Resolution) Dimensions() (width, height int) {
	switch r {
	case Res480p:
		return 640, 480
	case Res512p:
		return 910, 512
	case Res720p:
		return 1280, 720
	case Res1080p:
		return 1920, 1080
	default:
		return 0, 0
	}
}

// String returns a human-readable string representation of the resolution
func (r Resolution) String() string {
	switch r {
	case Res480p:
		return "480p"
	case Res512p:
		return "512p"
	case Res720p:
		return "720p"
	case Res1080p:
		return "1080p"
	default:
		return "native"
	}
}

// ParseResolution maps "480p", "512p", "720p", "1080p" to a Resolution.
// Anything else (including "") is ResNative.
func ParseResolution(s string) Resolution {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "480p":
		return Res480p
	case "512p":
		return Res512p
	case "720p":
		return Res720p
	case "1080p":
		return Res1080p
	default:
		return ResNative
	}
}

// StreamDescriptor is one candidate connection for a camera. Descriptors are
// produced fresh on every bind and never mutated afterwards.
type StreamDescriptor struct {
	// Index is the position in the candidate list (failover priority).
	Index int
	// Kind selects the backend.
	Kind TransportKind
	// URI is the stream or snapshot address.
	URI string
	// Pipeline is an optional gst-launch description replacing URI-based
	// source construction. It must produce raw or decodable video on its
	// last element.
	Pipeline string
	Codec    Codec
	// Resolution is the output size delivered to the surface.
	Resolution Resolution
	// LatencyMS is the jitter buffer size for pipelines and the refresh
	// period for polled images. Zero means backend default.
	LatencyMS int
	Multicast bool
	Label     string
}

// DisplayLabel returns Label, or a generated label when none was configured.
func (d StreamDescriptor) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return fmt.Sprintf("#%d %s", d.Index+1, d.Kind)
}

// Camera identifies the logical camera bound to a display slot.
type Camera struct {
	ID   string
	Name string
	// Overrides holds the camera-template policy values; nil fields fall
	// back to the system-wide defaults.
	Overrides PolicyOverrides
}
