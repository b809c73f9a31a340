package gstpipe

import (
	"log/slog"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Sample is one decoded RGB picture pulled from the appsink.
type Sample struct {
	Width  int
	Height int
	Data   []byte
}

// DeliverFunc receives every decoded sample. It runs on a GStreamer
// streaming thread and must not block.
type DeliverFunc func(Sample)

// Attach installs the appsink callback that copies each sample out of
// GStreamer and hands it to deliver.
func Attach(elements *Elements, width, height int, deliver DeliverFunc) {
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return OnNewSample(sink, width, height, deliver)
		},
	})
}

// OnNewSample is called by GStreamer when a new frame is available
//
// This callback:
//  1. Pulls the sample from the appsink
//  2. Maps the buffer to read pixel data
//  3. Copies data (GStreamer will reuse the buffer)
//  4. Reads the negotiated size from the caps when scaling is native
//
// A bad sample is skipped; the stream keeps running.
func OnNewSample(sink *app.Sink, width, height int, deliver DeliverFunc) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstpipe: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstpipe: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstpipe: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	if width <= 0 || height <= 0 {
		width, height = capsSize(sample.GetCaps())
	}

	deliver(Sample{Width: width, Height: height, Data: frameData})
	return gst.FlowOK
}

// capsSize reads width/height from the first caps structure.
func capsSize(caps *gst.Caps) (int, int) {
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	st := caps.GetStructureAt(0)
	w, errW := st.GetValue("width")
	h, errH := st.GetValue("height")
	if errW != nil || errH != nil {
		return 0, 0
	}
	wi, _ := w.(int)
	hi, _ := h.(int)
	return wi, hi
}

// linkOnPadAdded links src's dynamic pads to dst's static sink pad. With
// videoOnly set, non-video pads (audio from uridecodebin) are ignored.
func linkOnPadAdded(src, dst *gst.Element, videoOnly bool) {
	src.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		OnPadAdded(srcPad, dst, videoOnly)
	})
}

// OnPadAdded is called by GStreamer when a source creates a new dynamic pad.
//
// rtspsrc, decodebin and uridecodebin have dynamic pads (not known at pipeline
// creation time), so they are linked when they appear.
func OnPadAdded(srcPad *gst.Pad, sinkElement *gst.Element, videoOnly bool) {
	slog.Debug("gstpipe: pad-added signal received", "pad", srcPad.GetName())

	if videoOnly && !isVideoPad(srcPad) {
		slog.Debug("gstpipe: ignoring non-video pad", "pad", srcPad.GetName())
		return
	}

	sinkPad := sinkElement.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("gstpipe: failed to get sink pad", "element", sinkElement.GetName())
		return
	}
	if sinkPad.IsLinked() {
		slog.Debug("gstpipe: sink pad already linked", "pad", srcPad.GetName())
		return
	}

	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("gstpipe: failed to link pads",
			"src_pad", srcPad.GetName(),
			"sink_pad", sinkPad.GetName(),
			"ret", ret,
		)
		return
	}

	slog.Debug("gstpipe: pads linked successfully",
		"src_pad", srcPad.GetName(),
		"sink_pad", sinkPad.GetName(),
	)
}

func isVideoPad(pad *gst.Pad) bool {
	caps := pad.GetCurrentCaps()
	if caps == nil {
		caps = pad.QueryCaps(nil)
	}
	if caps == nil || caps.GetSize() == 0 {
		return false
	}
	return strings.HasPrefix(caps.GetStructureAt(0).Name(), "video/")
}
