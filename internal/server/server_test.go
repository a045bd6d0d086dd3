package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	visionstudio "github.com/menta2k/vision-studio"
	"github.com/menta2k/vision-studio/internal/config"
	"github.com/menta2k/vision-studio/pkg/client"
	"github.com/menta2k/vision-studio/pkg/detection"
	"github.com/menta2k/vision-studio/pkg/render"
	"github.com/menta2k/vision-studio/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAnnotator returns a fixed result or error
type fakeAnnotator struct {
	err    error
	calls  int
	prompt string
}

func (f *fakeAnnotator) Annotate(ctx context.Context, img image.Image, prompt string) (*types.RenderedAnnotation, error) {
	f.calls++
	f.prompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return &types.RenderedAnnotation{
		Image:   image.NewNRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy())),
		Objects: []types.DetectedObject{{Box: types.Box{0, 0, 500, 500}, Label: "cat"}},
		Annotations: []types.Annotation{
			{Label: "cat", ColorName: "red", Rect: types.PixelRect{X2: 8, Y2: 8}, LabelAt: image.Pt(8, 6)},
		},
		ExtraInfo: types.SectionedInfo(
			types.Section{Heading: "Summary", Text: "a <cat>"},
			types.Section{Heading: "Colors", Fields: []types.Field{{Key: "red", Value: "car"}}},
		),
	}, nil
}

// createTestImage creates a simple PNG-encoded test image
func createTestImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{100, 150, 200, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, filename string, data []byte, prompt string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if prompt != "" {
		w.WriteField("prompt", prompt)
	}
	if data != nil {
		part, err := w.CreateFormFile("image", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, w.FormDataContentType()
}

func newTestServer(t *testing.T, a Annotator) *Server {
	t.Helper()
	s, err := New(a, config.Default(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func post(t *testing.T, s *Server, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestIndex(t *testing.T) {
	s := newTestServer(t, &fakeAnnotator{})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Run!", `name="prompt"`, `name="image"`, "spinner", ".jpg,.jpeg,.png"} {
		if !strings.Contains(body, want) {
			t.Errorf("Index page is missing %q", want)
		}
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeAnnotator{})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("Unexpected healthz response %d %s", w.Code, w.Body.String())
	}
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, &fakeAnnotator{})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if _, err := uuid.Parse(w.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("Expected generated uuid, got %q", w.Header().Get(RequestIDHeader))
	}

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, id)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) != id {
		t.Errorf("Expected incoming id %s to be kept, got %s", id, w.Header().Get(RequestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) == "<script>" {
		t.Error("Invalid request id was echoed back")
	}
}

func TestAnalyzeAPI(t *testing.T) {
	fa := &fakeAnnotator{}
	s := newTestServer(t, fa)
	body, ct := multipartBody(t, "photo.png", createTestImage(t, 40, 30), " red things ")

	w := post(t, s, "/api/analyze", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if fa.prompt != "red things" {
		t.Errorf("Expected trimmed prompt, got %q", fa.prompt)
	}

	var resp struct {
		RequestID string                     `json:"request_id"`
		Image     string                     `json:"image"`
		Width     int                        `json:"width"`
		Objects   []types.DetectedObject     `json:"objects"`
		ExtraInfo map[string]json.RawMessage `json:"extra_info"`
		Panels    []struct {
			Heading string `json:"heading"`
		} `json:"panels"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if resp.RequestID != w.Header().Get(RequestIDHeader) {
		t.Errorf("Body request id %q does not match header", resp.RequestID)
	}
	if !strings.HasPrefix(resp.Image, "data:image/png;base64,") {
		t.Errorf("Expected PNG data URL, got %.40s", resp.Image)
	}
	if resp.Width != 40 || len(resp.Objects) != 1 || resp.Objects[0].Label != "cat" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if len(resp.Panels) != 2 || resp.Panels[0].Heading != "Summary" {
		t.Errorf("Unexpected panels %+v", resp.Panels)
	}
	if _, ok := resp.ExtraInfo["Colors"]; !ok {
		t.Errorf("extra_info lost its sections: %v", resp.ExtraInfo)
	}
}

func TestAnalyzeAPIErrors(t *testing.T) {
	pngData := createTestImage(t, 8, 8)

	tests := []struct {
		name      string
		annotator *fakeAnnotator
		filename  string
		data      []byte
		prompt    string
		want      int
		wantCalls int
	}{
		{"missing image", &fakeAnnotator{}, "", nil, "describe", http.StatusBadRequest, 0},
		{"missing prompt", &fakeAnnotator{}, "a.png", pngData, "", http.StatusBadRequest, 0},
		{"unsupported format", &fakeAnnotator{}, "a.gif", pngData, "describe", http.StatusBadRequest, 0},
		{"not an image", &fakeAnnotator{}, "a.png", []byte("hello"), "describe", http.StatusBadRequest, 0},
		{"model error", &fakeAnnotator{err: &types.ModelRequestError{Backend: "fake", Err: errors.New("401")}}, "a.png", pngData, "describe", http.StatusBadGateway, 1},
		{"payload not found", &fakeAnnotator{err: &types.PayloadNotFoundError{Reply: "hi"}}, "a.png", pngData, "describe", http.StatusBadGateway, 1},
		{"malformed", &fakeAnnotator{err: &types.MalformedResponseError{Reason: "missing extra_info"}}, "a.png", pngData, "describe", http.StatusBadGateway, 1},
		{"render", &fakeAnnotator{err: &types.RenderResourceError{Resource: "font", Err: errors.New("gone")}}, "a.png", pngData, "describe", http.StatusInternalServerError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.annotator)
			body, ct := multipartBody(t, tt.filename, tt.data, tt.prompt)
			w := post(t, s, "/api/analyze", body, ct)

			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var resp map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Bad JSON: %v", err)
			}
			if resp["error"] == "" || resp["request_id"] == "" {
				t.Errorf("Expected error and request_id, got %v", resp)
			}
			if tt.annotator.calls != tt.wantCalls {
				t.Errorf("Expected %d pipeline calls, got %d", tt.wantCalls, tt.annotator.calls)
			}
		})
	}
}

func TestAnalyzeAPITooLarge(t *testing.T) {
	cfg := config.Default()
	cfg.Upload.MaxBytes = 1024
	s, err := New(&fakeAnnotator{}, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	body, ct := multipartBody(t, "big.png", bytes.Repeat([]byte{0x89}, 3<<20), "describe")
	w := post(t, s, "/api/analyze", body, ct)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestAnalyzePage(t *testing.T) {
	s := newTestServer(t, &fakeAnnotator{})
	body, ct := multipartBody(t, "photo.png", createTestImage(t, 16, 16), "what is this?")

	w := post(t, s, "/analyze", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	page := w.Body.String()
	for _, want := range []string{
		"Detailed Information",
		`src="data:image/png;base64,`,
		"<h3>Summary</h3>",
		"<p>a &lt;cat&gt;</p>",
		"<p><strong>red</strong>: car</p>",
		`value="what is this?"`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("Result page is missing %q", want)
		}
	}
}

func TestAnalyzePageError(t *testing.T) {
	s := newTestServer(t, &fakeAnnotator{err: &types.PayloadNotFoundError{Reply: "sorry"}})
	body, ct := multipartBody(t, "photo.png", createTestImage(t, 16, 16), "what is this?")

	w := post(t, s, "/analyze", body, ct)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", w.Code)
	}
	page := w.Body.String()
	if !strings.Contains(page, `class="error"`) || !strings.Contains(page, "no JSON block found") {
		t.Error("Error message not shown on page")
	}
	if strings.Contains(page, "Detailed Information") {
		t.Error("Result panel shown for a failed request")
	}
}

type fixedReply struct{ reply string }

func (f fixedReply) Name() string { return "fixed" }

func (f fixedReply) Query(ctx context.Context, req client.Request) (string, error) {
	return f.reply, nil
}

func TestAnalyzeAPIPipeline(t *testing.T) {
	cfg := render.DefaultConfig()
	cfg.Rand = rand.New(rand.NewSource(7))
	r, err := render.NewWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	reply := "```json\n{\"objects\": [{\"box_2d\": [500, 500, 250, 250], \"label\": \"sky\", \"description\": \"blue\"}], \"extra_info\": \"none\"}\n```"
	studio := visionstudio.New(detection.NewDetector(fixedReply{reply}, detection.Options{}), r)

	s := newTestServer(t, studio)
	body, ct := multipartBody(t, "photo.png", createTestImage(t, 2048, 1536), "where is the sky?")
	w := post(t, s, "/api/analyze", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Width       int                `json:"width"`
		Height      int                `json:"height"`
		Annotations []types.Annotation `json:"annotations"`
		ExtraInfo   string             `json:"extra_info"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if resp.Width != 1024 || resp.Height != 768 {
		t.Errorf("Expected 1024x768, got %dx%d", resp.Width, resp.Height)
	}
	want := types.PixelRect{X1: 256, Y1: 192, X2: 512, Y2: 384}
	if len(resp.Annotations) != 1 || resp.Annotations[0].Rect != want {
		t.Errorf("Unexpected annotations %+v", resp.Annotations)
	}
	if resp.ExtraInfo != "none" {
		t.Errorf("Expected extra_info none, got %q", resp.ExtraInfo)
	}
}

func TestStatusFor(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &types.InputError{Reason: "x"})
	if statusFor(wrapped) != http.StatusBadRequest {
		t.Error("Wrapped InputError should map to 400")
	}
	if statusFor(errors.New("boom")) != http.StatusInternalServerError {
		t.Error("Unknown errors should map to 500")
	}
}
