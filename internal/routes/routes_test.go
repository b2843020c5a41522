package routes

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/latortuga71/GoEvade/internal/data"
	"github.com/latortuga71/GoEvade/internal/db"
	"github.com/latortuga71/GoEvade/internal/testpe"
)

func postScore(router http.Handler, body []byte, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/score", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("filename", "sample.exe")
	if secret != "" {
		req.Header.Set("authorization", secret)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestScoreEndpointRoundTrip(t *testing.T) {
	ServerSharedSecret = ""
	router := ScoreRouter()
	body := testpe.Minimal()

	w := postScore(router, body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("score endpoint returned %d", w.Code)
	}
	response := &data.ScoreResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), response); err != nil {
		t.Fatalf("invalid response json: %v", err)
	}
	if response.Confidence < 0 || response.Confidence > 1 {
		t.Errorf("confidence %f outside [0,1]", response.Confidence)
	}
	if response.SizeBytes != len(body) {
		t.Errorf("size %d, want %d", response.SizeBytes, len(body))
	}
	if len(response.Sha256) != 64 {
		t.Errorf("sha256 %q is not 64 hex chars", response.Sha256)
	}
	if db.ScansDatabase.Count() == 0 {
		t.Error("scan was not recorded")
	}
}

func TestScoreEndpointRejectsEmptyBody(t *testing.T) {
	ServerSharedSecret = ""
	router := ScoreRouter()
	w := postScore(router, nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body returned %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestScoreEndpointSharedSecret(t *testing.T) {
	ServerSharedSecret = "sixteenbytespass"
	t.Cleanup(func() { ServerSharedSecret = "" })
	router := ScoreRouter()
	body := testpe.Minimal()

	if w := postScore(router, body, ""); w.Code != http.StatusForbidden {
		t.Errorf("missing secret returned %d, want %d", w.Code, http.StatusForbidden)
	}
	if w := postScore(router, body, "wrong"); w.Code != http.StatusForbidden {
		t.Errorf("wrong secret returned %d, want %d", w.Code, http.StatusForbidden)
	}
	if w := postScore(router, body, "sixteenbytespass"); w.Code != http.StatusOK {
		t.Errorf("valid secret returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestScoreJSONEndpoint(t *testing.T) {
	ServerSharedSecret = ""
	router := ScoreRouter()
	body := testpe.Minimal()
	payload := &data.ScoreRequest{
		Filename:  "sample.exe",
		B64Binary: base64.StdEncoding.EncodeToString(body),
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/score/json", bytes.NewReader(payload.ToBytes()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("json score endpoint returned %d", w.Code)
	}
	response := &data.ScoreResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), response); err != nil {
		t.Fatalf("invalid response json: %v", err)
	}
	if response.SizeBytes != len(body) {
		t.Errorf("size %d, want %d", response.SizeBytes, len(body))
	}

	bad := []byte(`{"filename":"x","b64_binary":"%%%not-base64%%%"}`)
	req = httptest.NewRequest(http.MethodPost, "/v1/score/json", bytes.NewReader(bad))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad base64 returned %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestScanLookupEndpoints(t *testing.T) {
	ServerSharedSecret = ""
	router := ScoreRouter()
	if w := postScore(router, testpe.Minimal(), ""); w.Code != http.StatusOK {
		t.Fatalf("score endpoint returned %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/scans", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("scans endpoint returned %d", w.Code)
	}
	scans := make(map[string]data.ScanRecord)
	if err := json.Unmarshal(w.Body.Bytes(), &scans); err != nil {
		t.Fatalf("invalid scans json: %v", err)
	}
	if len(scans) == 0 {
		t.Fatal("scan log is empty after a scored request")
	}

	for id := range scans {
		req = httptest.NewRequest(http.MethodGet, "/v1/scan/"+id, nil)
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("scan lookup for %s returned %d", id, w.Code)
		}
		break
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/scan/does-not-exist", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing scan returned %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ServerSharedSecret = ""
	router := ScoreRouter()
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health endpoint returned %d", w.Code)
	}
}
