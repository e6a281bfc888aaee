package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streetintel/streetintel-backend/internal/types"
)

func newDetectorServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			http.Error(w, "bad multipart", http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file part", http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClientFor(t *testing.T, url string) DetectionClient {
	t.Helper()
	t.Setenv("AI_SERVICE_URL", url)
	t.Setenv("AI_TIMEOUT_SECONDS", "5")
	t.Setenv("AI_CONFIDENCE_THRESHOLD", "0.35")
	return NewDetectionClient(testLogger(t))
}

func TestDetectValidResult(t *testing.T) {
	body := `{
		"defect_type": "pothole",
		"raw_class": "pothole",
		"confidence": 0.87,
		"danger_level": "critical",
		"danger_label": "Critical — Immediate Danger",
		"danger_priority": 1,
		"severity": "high",
		"bbox": [120.5, 88.0, 410.2, 300.7],
		"is_valid": true
	}`
	srv := newDetectorServer(t, http.StatusOK, body)
	client := newClientFor(t, srv.URL)

	got, err := client.Detect(context.Background(), []byte("jpegdata"), "road.jpg")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got.DefectType == nil || *got.DefectType != "pothole" {
		t.Fatalf("defect_type = %v", got.DefectType)
	}
	if got.Confidence != 0.87 {
		t.Fatalf("confidence = %v", got.Confidence)
	}
	if got.DangerLevel == nil || *got.DangerLevel != types.DangerCritical {
		t.Fatalf("danger_level = %v", got.DangerLevel)
	}
	if len(got.BBox) != 4 || got.BBox[0] != 120.5 {
		t.Fatalf("bbox = %v", got.BBox)
	}
	if !got.DefectFound() {
		t.Fatal("DefectFound() = false for a valid detection")
	}
}

func TestDetectBelowThresholdNormalizedToClean(t *testing.T) {
	body := `{
		"defect_type": "pothole",
		"confidence": 0.20,
		"danger_level": "minor",
		"bbox": [0, 0, 50, 50],
		"is_valid": true
	}`
	srv := newDetectorServer(t, http.StatusOK, body)
	client := newClientFor(t, srv.URL)

	got, err := client.Detect(context.Background(), []byte("jpegdata"), "road.jpg")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got.DefectFound() {
		t.Fatal("below-threshold detection should normalize to clean")
	}
	if got.Confidence != 0.20 {
		t.Fatalf("confidence = %v, want preserved 0.20", got.Confidence)
	}
}

func TestDetectInvalidFlagNormalizedToClean(t *testing.T) {
	body := `{
		"defect_type": "pothole",
		"confidence": 0.80,
		"danger_level": "critical",
		"is_valid": false
	}`
	srv := newDetectorServer(t, http.StatusOK, body)
	client := newClientFor(t, srv.URL)

	got, err := client.Detect(context.Background(), []byte("jpegdata"), "road.jpg")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got.DefectFound() {
		t.Fatal("is_valid=false should normalize to clean")
	}
}

func TestDetectNoDefect(t *testing.T) {
	srv := newDetectorServer(t, http.StatusOK, `{"defect_type": null, "confidence": 0.0, "is_valid": false}`)
	client := newClientFor(t, srv.URL)

	got, err := client.Detect(context.Background(), []byte("jpegdata"), "road.jpg")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got.DefectFound() {
		t.Fatal("null defect_type should report no defect")
	}
}

func TestDetectHTTPError(t *testing.T) {
	srv := newDetectorServer(t, http.StatusInternalServerError, `{"detail": "model not loaded"}`)
	client := newClientFor(t, srv.URL)

	_, err := client.Detect(context.Background(), []byte("jpegdata"), "road.jpg")
	var httpErr *DetectorHTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("want DetectorHTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", httpErr.StatusCode)
	}
}

func TestDetectUnreachable(t *testing.T) {
	// Nothing listens here.
	client := newClientFor(t, "http://127.0.0.1:1")

	_, err := client.Detect(context.Background(), []byte("jpegdata"), "road.jpg")
	if !errors.Is(err, ErrDetectorUnavailable) {
		t.Fatalf("want ErrDetectorUnavailable, got %v", err)
	}
}

func TestDetectEmptyImage(t *testing.T) {
	client := newClientFor(t, "http://127.0.0.1:1")
	if _, err := client.Detect(context.Background(), nil, "road.jpg"); err == nil {
		t.Fatal("empty image must error before any request")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	client := newClientFor(t, srv.URL)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}

	down := newClientFor(t, "http://127.0.0.1:1")
	if err := down.Health(context.Background()); !errors.Is(err, ErrDetectorUnavailable) {
		t.Fatalf("want ErrDetectorUnavailable, got %v", err)
	}
}
