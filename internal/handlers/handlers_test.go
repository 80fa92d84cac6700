package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/facewatch/internal/logging"
	"github.com/example/facewatch/internal/resultlog"
	"github.com/example/facewatch/internal/usecase"
)

type fakeService struct {
	identifyInput usecase.ImageInput
	identifyCalls int
	identifyErr   error

	enrollName  string
	enrollInput usecase.ImageInput
	enrollErr   error

	dashboardLimit int
}

func (f *fakeService) Identify(_ context.Context, in usecase.ImageInput) (*resultlog.DetectionResult, error) {
	f.identifyCalls++
	f.identifyInput = in
	if f.identifyErr != nil {
		return nil, f.identifyErr
	}
	return &resultlog.DetectionResult{
		ID:         "result-1",
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Result:     "Known: alice",
		Confidence: 0.7,
		ImageSize:  "4x4",
		FaceCount:  1,
		Faces:      []string{"alice"},
	}, nil
}

func (f *fakeService) Enroll(_ context.Context, name string, in usecase.ImageInput) (*usecase.EnrollResult, error) {
	f.enrollName = name
	f.enrollInput = in
	if f.enrollErr != nil {
		return nil, f.enrollErr
	}
	return &usecase.EnrollResult{Name: name, KnownFaces: 3}, nil
}

func (f *fakeService) Dashboard(limit int) *usecase.DashboardSummary {
	f.dashboardLimit = limit
	return &usecase.DashboardSummary{
		Total:              1,
		TotalFacesDetected: 2,
		KnownFacesCount:    1,
		KnownFaces:         []usecase.KnownFaceView{{Name: "alice"}},
		Results:            []resultlog.DetectionResult{{ID: "result-1", Result: "Known: alice"}},
	}
}

func (f *fakeService) Health() usecase.HealthStatus {
	return usecase.HealthStatus{Status: "ok", KnownFaces: 4}
}

func newTestRouter(svc RecognitionService) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, zap.NewNop())
	return router
}

func TestIdentifyRejectsLargeUpload(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1), nil)

	req := httptest.NewRequest(http.MethodPost, "/identify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if svc.identifyCalls != 0 {
		t.Fatalf("expected use case not to be called, got %d calls", svc.identifyCalls)
	}
}

func TestIdentifyRejectsUnsupportedContentType(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"), nil)

	req := httptest.NewRequest(http.MethodPost, "/identify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestIdentifyMultipartSuccess(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	payload := pngBytes(t)
	body, contentType := buildMultipartBody(t, "image/png", payload, nil)

	req := httptest.NewRequest(http.MethodPost, "/identify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if !bytes.Equal(svc.identifyInput.Data, payload) {
		t.Fatalf("expected uploaded bytes to reach the use case")
	}

	var got map[string]any
	decodeBody(t, resp, &got)
	if got["status"] != "success" || got["result"] != "Known: alice" {
		t.Fatalf("unexpected response: %v", got)
	}
	if got["image_size"] != "4x4" || got["face_count"] != float64(1) {
		t.Fatalf("unexpected response: %v", got)
	}
}

func TestIdentifyJSONPassesBase64Through(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/identify", strings.NewReader(`{"image":"aGVsbG8="}`))
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if svc.identifyInput.Encoded != "aGVsbG8=" {
		t.Fatalf("expected encoded image to be forwarded, got %q", svc.identifyInput.Encoded)
	}
}

func TestIdentifyMapsErrors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "empty body",
			body:        "",
			wantStatus:  http.StatusBadRequest,
			wantMessage: usecase.ErrNoImageProvided.Error(),
		},
		{
			name:       "invalid json",
			body:       "{",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "client error",
			body:        `{"image":"x"}`,
			err:         logging.NewOperationError("usecase.identify", "req-1", usecase.ErrImageDecodeFailure),
			wantStatus:  http.StatusBadRequest,
			wantMessage: usecase.ErrImageDecodeFailure.Error(),
		},
		{
			name:       "encoder down",
			body:       `{"image":"x"}`,
			err:        logging.NewOperationError("usecase.identify", "req-1", usecase.ErrEncoderFailure),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeService{identifyErr: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/identify", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, resp.Code)
			}
			var got map[string]string
			decodeBody(t, resp, &got)
			if got["status"] != "error" {
				t.Fatalf("expected error status, got %v", got)
			}
			if tt.wantMessage != "" && got["message"] != tt.wantMessage {
				t.Fatalf("expected message %q, got %q", tt.wantMessage, got["message"])
			}
		})
	}
}

func TestAddFaceMultipart(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image/png", pngBytes(t), map[string]string{"name": "alice"})

	req := httptest.NewRequest(http.MethodPost, "/add_face", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if svc.enrollName != "alice" {
		t.Fatalf("expected name alice, got %q", svc.enrollName)
	}

	var got map[string]any
	decodeBody(t, resp, &got)
	if got["message"] != "Face 'alice' added successfully" {
		t.Fatalf("unexpected message: %v", got["message"])
	}
	if got["known_faces"] != float64(3) {
		t.Fatalf("expected known_faces 3, got %v", got["known_faces"])
	}
}

func TestAddFaceRequiresNameAndImage(t *testing.T) {
	for _, body := range []string{`{"image":"aGVsbG8="}`, `{"name":"alice"}`, `{"name":"  ","image":"aGVsbG8="}`} {
		svc := &fakeService{}
		router := newTestRouter(svc)

		req := httptest.NewRequest(http.MethodPost, "/add_face", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected status %d, got %d", body, http.StatusBadRequest, resp.Code)
		}
		if svc.enrollName != "" {
			t.Fatalf("body %s: expected use case not to be called", body)
		}
	}
}

func TestAddFaceMultipleFaces(t *testing.T) {
	svc := &fakeService{enrollErr: logging.NewOperationError("usecase.enroll", "req-1", usecase.ErrMultipleFacesDetected)}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/add_face", strings.NewReader(`{"name":"alice","image":"aGVsbG8="}`))
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	var got map[string]string
	decodeBody(t, resp, &got)
	if got["message"] != usecase.ErrMultipleFacesDetected.Error() {
		t.Fatalf("unexpected message %q", got["message"])
	}
}

func TestResultsAndLimit(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/results?limit=5", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if svc.dashboardLimit != 5 {
		t.Fatalf("expected limit 5, got %d", svc.dashboardLimit)
	}

	var got map[string]any
	decodeBody(t, resp, &got)
	for _, key := range []string{"status", "total", "total_faces_detected", "known_faces_count", "known_faces", "results"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("expected key %q in %v", key, got)
		}
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/results?limit=zero", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for bad limit, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestHealthAndDashboardPage(t *testing.T) {
	router := newTestRouter(&fakeService{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var health usecase.HealthStatus
	decodeBody(t, resp, &health)
	if health.Status != "ok" || health.KnownFaces != 4 {
		t.Fatalf("unexpected health: %+v", health)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if !strings.HasPrefix(resp.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("expected html, got %q", resp.Header().Get("Content-Type"))
	}
	if !strings.Contains(resp.Body.String(), "/api/results") {
		t.Fatalf("expected dashboard to poll results")
	}
}

func TestClientMessageFallsBackToError(t *testing.T) {
	err := errors.New("boom")
	if got := clientMessage(err); got != "boom" {
		t.Fatalf("expected boom, got %q", got)
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field %s: %v", key, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()

	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", resp.Body.String(), err)
	}
}
