package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"html/template"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/vision-studio/internal/config"
	"github.com/menta2k/vision-studio/internal/utils"
	"github.com/menta2k/vision-studio/pkg/present"
	"github.com/menta2k/vision-studio/pkg/processing"
	"github.com/menta2k/vision-studio/pkg/types"
)

//go:embed templates/index.html
var templateFS embed.FS

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// Annotator runs the analysis pipeline for one image and prompt
type Annotator interface {
	Annotate(ctx context.Context, img image.Image, prompt string) (*types.RenderedAnnotation, error)
}

// Server serves the single-page UI and the JSON API
type Server struct {
	annotator Annotator
	processor *processing.Processor
	output    config.OutputConfig
	accept    string
	maxBytes  int64
	logger    *zap.Logger
	engine    *gin.Engine
}

// New creates a Server. A nil logger discards logs.
func New(a Annotator, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, err
	}

	accept := make([]string, 0, len(cfg.Upload.SupportedFormats))
	for _, f := range cfg.Upload.SupportedFormats {
		accept = append(accept, "."+strings.ToLower(f))
	}

	s := &Server{
		annotator: a,
		processor: processing.NewProcessor(cfg.Upload.SupportedFormats, cfg.Upload.MaxBytes),
		output:    cfg.Output,
		accept:    strings.Join(accept, ","),
		maxBytes:  cfg.Upload.MaxBytes,
		logger:    logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestID())
	r.Use(s.accessLog())
	r.SetHTMLTemplate(tmpl)

	r.GET("/", s.index)
	r.POST("/analyze", s.analyzePage)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/analyze", s.analyzeAPI)
	}

	s.engine = r
	return s, nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// pageData feeds templates/index.html
type pageData struct {
	Accept    string
	Prompt    string
	Error     string
	RequestID string
	Result    *pageResult
}

type pageResult struct {
	ImageURL template.URL
	Info     template.HTML
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", pageData{Accept: s.accept})
}

func (s *Server) analyzePage(c *gin.Context) {
	id := c.GetString(requestIDKey)
	out, dataURL, err := s.run(c)
	data := pageData{Accept: s.accept, Prompt: c.PostForm("prompt"), RequestID: id}
	if err != nil {
		data.Error = err.Error()
		c.HTML(statusFor(err), "index.html", data)
		return
	}

	data.Result = &pageResult{
		ImageURL: template.URL(dataURL),
		Info:     present.HTML(out.ExtraInfo),
	}
	c.HTML(http.StatusOK, "index.html", data)
}

// analyzeResponse is the JSON body of a successful /api/analyze call
type analyzeResponse struct {
	RequestID   string                 `json:"request_id"`
	Image       string                 `json:"image"`
	Width       int                    `json:"width"`
	Height      int                    `json:"height"`
	Objects     []types.DetectedObject `json:"objects"`
	Annotations []types.Annotation     `json:"annotations"`
	ExtraInfo   types.ExtraInfo        `json:"extra_info"`
	Panels      []present.Panel        `json:"panels"`
}

func (s *Server) analyzeAPI(c *gin.Context) {
	id := c.GetString(requestIDKey)

	out, dataURL, err := s.run(c)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"request_id": id, "error": err.Error()})
		return
	}

	b := out.Image.Bounds()
	c.JSON(http.StatusOK, analyzeResponse{
		RequestID:   id,
		Image:       dataURL,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Objects:     out.Objects,
		Annotations: out.Annotations,
		ExtraInfo:   out.ExtraInfo,
		Panels:      present.Panels(out.ExtraInfo),
	})
}

// run reads the upload, runs the pipeline and encodes the annotated image
// as a data URL
func (s *Server) run(c *gin.Context) (*types.RenderedAnnotation, string, error) {
	log := s.logger.With(zap.String("request_id", c.GetString(requestIDKey)))

	// multipart overhead on top of the image itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBytes+1<<20)

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, "", &types.InputError{Reason: "upload larger than " + utils.FormatFileSize(s.maxBytes)}
		}
		return nil, "", &types.InputError{Reason: "an image file is required"}
	}
	prompt := strings.TrimSpace(c.PostForm("prompt"))
	if prompt == "" {
		return nil, "", &types.InputError{Reason: "prompt is required"}
	}

	log.Info("upload received",
		zap.String("filename", utils.SanitizeFilename(fh.Filename)),
		zap.String("size", utils.FormatFileSize(fh.Size)),
	)

	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, err := s.processor.LoadUpload(f, fh.Filename)
	if err != nil {
		log.Info("upload rejected", zap.Error(err))
		return nil, "", err
	}

	out, err := s.annotator.Annotate(c.Request.Context(), img, prompt)
	if err != nil {
		log.Warn("analysis failed", zap.Error(err))
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := processing.Encode(&buf, out.Image, s.output.Format, s.output.Quality, s.output.Lossless); err != nil {
		return nil, "", err
	}
	dataURL := "data:" + processing.ContentType(s.output.Format) + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	return out, dataURL, nil
}

// statusFor maps pipeline errors to HTTP statuses
func statusFor(err error) int {
	var (
		inputErr     *types.InputError
		modelErr     *types.ModelRequestError
		notFoundErr  *types.PayloadNotFoundError
		malformedErr *types.MalformedResponseError
	)
	switch {
	case errors.As(err, &inputErr):
		return http.StatusBadRequest
	case errors.As(err, &modelErr), errors.As(err, &notFoundErr), errors.As(err, &malformedErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
