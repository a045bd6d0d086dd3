// Package visionstudio asks a multimodal model about a photograph and draws
// the answer back onto it.
//
// A request flows through four stages:
//
//  1. detection: the image and the user's prompt are sent to the model
//     together with a fixed instruction asking for bounding boxes
//  2. response: the JSON payload is pulled out of the reply and validated
//  3. render: each object's box and label are drawn onto a copy of the image
//  4. present: the model's extra information is laid out for display
//
// Basic usage:
//
//	c, _ := gemini.NewClient(ctx, os.Getenv("GOOGLE_API_KEY"), "", nil)
//	r, _ := render.New()
//	studio := visionstudio.New(detection.NewDetector(c, detection.Options{}), r)
//
//	img, _ := processing.NewProcessor(nil, 0).LoadImage("street.jpg")
//	out, err := studio.Annotate(ctx, img, "which objects are red?")
//	if err != nil {
//		log.Fatal(err)
//	}
//	processing.SaveImage(out.Image, "street_annotated.png", "png", 0, false)
//	fmt.Print(present.Markdown(out.ExtraInfo))
//
// Errors are typed (see pkg/types) so callers can tell a bad upload from a
// model failure or an unusable reply with errors.As.
package visionstudio

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/menta2k/vision-studio/pkg/detection"
	"github.com/menta2k/vision-studio/pkg/processing"
	"github.com/menta2k/vision-studio/pkg/render"
	"github.com/menta2k/vision-studio/pkg/response"
	"github.com/menta2k/vision-studio/pkg/types"
)

// Version of the vision studio library
const Version = "1.0.0"

// Studio runs the detect, parse, render pipeline. It holds no per-request
// state and is safe for concurrent use.
type Studio struct {
	detector *detection.Detector
	renderer *render.Renderer
	logger   *zap.Logger
	width    int
}

// Option configures a Studio
type Option func(*Studio)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Studio) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTargetWidth sets the width images are resized to before analysis.
// Zero or less keeps the original size.
func WithTargetWidth(w int) Option {
	return func(s *Studio) {
		s.width = w
	}
}

// New creates a Studio
func New(detector *detection.Detector, renderer *render.Renderer, opts ...Option) *Studio {
	s := &Studio{
		detector: detector,
		renderer: renderer,
		logger:   zap.NewNop(),
		width:    processing.TargetWidth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Annotate resizes img, asks the model about it, and draws the reply onto the
// resized copy. img itself is not modified. Nothing is drawn unless the reply
// parses completely.
func (s *Studio) Annotate(ctx context.Context, img image.Image, prompt string) (*types.RenderedAnnotation, error) {
	if img == nil {
		return nil, &types.InputError{Reason: "image is required"}
	}

	resized := processing.ResizeToWidth(img, s.width)
	s.logger.Info("image prepared",
		zap.Int("original_width", img.Bounds().Dx()),
		zap.Int("original_height", img.Bounds().Dy()),
		zap.Int("width", resized.Bounds().Dx()),
		zap.Int("height", resized.Bounds().Dy()),
	)

	reply, err := s.detector.Detect(ctx, resized, prompt)
	if err != nil {
		s.logger.Warn("model request failed", zap.String("backend", s.detector.Backend()), zap.Error(err))
		return nil, err
	}
	s.logger.Debug("model reply", zap.String("reply", reply))

	result, err := response.Parse(reply)
	if err != nil {
		s.logger.Warn("unusable model reply", zap.Error(err), zap.Int("reply_length", len(reply)))
		return nil, err
	}
	if result.DroppedObjects > 0 {
		s.logger.Warn("too many objects in reply, extra dropped",
			zap.Int("kept", len(result.Objects)),
			zap.Int("dropped", result.DroppedObjects),
		)
	}

	annotations := s.renderer.Render(resized, result.Objects)
	for _, a := range annotations {
		s.logger.Debug("object drawn",
			zap.String("label", a.Label),
			zap.String("color", a.ColorName),
			zap.Int("x1", a.Rect.X1),
			zap.Int("y1", a.Rect.Y1),
			zap.Int("x2", a.Rect.X2),
			zap.Int("y2", a.Rect.Y2),
		)
	}
	s.logger.Info("image annotated", zap.Int("objects", len(annotations)))

	return &types.RenderedAnnotation{
		Image:       resized,
		Objects:     result.Objects,
		Annotations: annotations,
		ExtraInfo:   result.ExtraInfo,
	}, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
