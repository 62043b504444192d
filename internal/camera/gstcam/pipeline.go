package gstcam

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-faceid/internal/camera"
)

// pipelineConfig contains configuration for GStreamer pipeline creation
type pipelineConfig struct {
	Source string // v4l2, test
	Device string
	Width  int
	Height int
	FPS    int
}

// pipelineElements holds references needed for callbacks and cleanup
type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

// createPipeline builds, but does not start:
//
//	v4l2src|videotestsrc → videoconvert → videoscale → videorate →
//	capsfilter(RGB) → appsink
func createPipeline(cfg pipelineConfig) (*pipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var src *gst.Element
	switch cfg.Source {
	case "test":
		src, err = gst.NewElement("videotestsrc")
		if err != nil {
			return nil, fmt.Errorf("failed to create videotestsrc: %w", err)
		}
		src.SetProperty("is-live", true)
	default:
		src, err = gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", cfg.Device)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(cfg.Width, cfg.Height, cfg.FPS)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, scaler, videorate, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	slog.Debug("gstcam: pipeline created",
		"source", cfg.Source,
		"device", cfg.Device,
		"caps", buildCaps(cfg.Width, cfg.Height, cfg.FPS),
	)

	return &pipelineElements{Pipeline: pipeline, AppSink: appsink}, nil
}

// destroyPipeline sets the pipeline to NULL. Safe on nil.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

func buildCaps(width, height, fps int) string {
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1", width, height, fps)
}

// sampleContext holds state needed by the appsink callback
type sampleContext struct {
	frames  chan<- camera.Frame
	seq     *atomic.Uint64
	dropped *atomic.Uint64
	width   int
	height  int
}

// onNewSample copies the mapped buffer into a Frame and sends it without
// blocking. A bad sample is skipped, never fatal.
func onNewSample(sink *app.Sink, ctx *sampleContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstcam: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstcam: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := camera.Frame{
		Seq:       ctx.seq.Add(1),
		Timestamp: time.Now(),
		Width:     ctx.width,
		Height:    ctx.height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	select {
	case ctx.frames <- frame:
	default:
		ctx.dropped.Add(1)
		slog.Debug("gstcam: dropping frame, channel full", "seq", frame.Seq)
	}

	return gst.FlowOK
}
