package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/spancache/internal/bridge"
	"github.com/any-hub/spancache/internal/logging"
	"github.com/any-hub/spancache/internal/manager"
	"github.com/any-hub/spancache/internal/server"
)

func TestInitializeRouteStatusCodes(t *testing.T) {
	app := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/-/cache/initialize", `{"cacheChildFolder":"mycache","cacheMaxSize":10485760}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	payload := decode(t, resp)
	if payload["status"] != "initialized" {
		t.Fatalf("unexpected payload %v", payload)
	}

	resp = doJSON(t, app, http.MethodPost, "/-/cache/initialize", `{"cacheChildFolder":"other","cacheMaxSize":1}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload = decode(t, resp)
	if payload["status"] != "already_initialized" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if folder, _ := payload["cacheFolder"].(string); !strings.HasSuffix(folder, "/mycache") {
		t.Fatalf("first folder must be kept, got %v", payload["cacheFolder"])
	}
}

func TestInitializeRouteRejectsBadBody(t *testing.T) {
	app := newTestApp(t)

	for _, body := range []string{`not json`, `{"cacheChildFolder":"mycache"}`, `{"cacheMaxSize":10}`} {
		resp := doJSON(t, app, http.MethodPost, "/-/cache/initialize", body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestInitializeRouteRejectsInvalidFolder(t *testing.T) {
	app := newTestApp(t)

	for _, folder := range []string{"../escape", ".", "a/b"} {
		body := `{"cacheChildFolder":"` + folder + `","cacheMaxSize":10}`
		resp := doJSON(t, app, http.MethodPost, "/-/cache/initialize", body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", folder, resp.StatusCode)
		}
		payload := decode(t, resp)
		if payload["error"] != bridge.CodeInitializeCache {
			t.Fatalf("unexpected error code %v", payload["error"])
		}
	}
}

func TestInitializeRouteSurfacesFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocker, []byte("file"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	app := newTestAppAt(t, blocker)

	resp := doJSON(t, app, http.MethodPost, "/-/cache/initialize", `{"cacheChildFolder":"mycache","cacheMaxSize":10}`)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	payload := decode(t, resp)
	if payload["error"] != bridge.CodeInitializeCache {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
	if msg, _ := payload["message"].(string); msg == "" {
		t.Fatalf("expected a readable message")
	}
}

func TestStatsRoute(t *testing.T) {
	app := newTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/-/cache/stats", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decode(t, resp)
	if entries, ok := payload["entries"].([]any); !ok || len(entries) != 0 {
		t.Fatalf("expected empty entries array, got %v", payload["entries"])
	}

	doJSON(t, app, http.MethodPost, "/-/cache/initialize", `{"cacheChildFolder":"mycache","cacheMaxSize":10485760}`)
	payload = decode(t, doJSON(t, app, http.MethodGet, "/-/cache/stats", ""))
	if folder, _ := payload["cacheFolder"].(string); !strings.HasSuffix(folder, "/mycache") {
		t.Fatalf("unexpected folder %v", payload["cacheFolder"])
	}
	if payload["cacheSpace"] != float64(0) {
		t.Fatalf("expected empty cache, got %v", payload["cacheSpace"])
	}
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	return newTestAppAt(t, t.TempDir())
}

func newTestAppAt(t *testing.T, root string) *fiber.App {
	t.Helper()

	m, err := manager.New(root, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	app, err := server.NewApp(server.AppOptions{
		Logger:     logging.Discard(),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	RegisterCacheRoutes(app, bridge.NewModule(m, nil))
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://localhost"+path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}
