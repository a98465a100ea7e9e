package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/adscript/api/internal/auth"
	"github.com/adscript/api/internal/client"
	"github.com/adscript/api/internal/config"
	"github.com/adscript/api/internal/handler"
	"github.com/adscript/api/internal/middleware"
	"github.com/adscript/api/internal/repository"
	"github.com/adscript/api/internal/service"
	"github.com/adscript/api/internal/storage"
	"github.com/adscript/api/internal/websocket"
	"github.com/adscript/api/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-handlers"
	testUserID    = "test-user-123"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// fakeInference returns a fixed PNG for every request
type fakeInference struct{}

func (fakeInference) Generate(context.Context, string) ([]byte, error) {
	return pngBytes, nil
}

func (fakeInference) Edit(context.Context, string, []byte) ([]byte, error) {
	return pngBytes, nil
}

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	dispatcher *service.InlineDispatcher
	store      *repository.Memory
}

// setupApp wires the API like cmd/server does, with an in-memory store,
// a temporary blob directory, an unconfigured LLM (mock script) and a fake
// inference service. Jobs run inline.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	store := repository.NewMemory()
	hub := websocket.NewHub()
	locks := service.NewLockManager()
	dispatcher := service.NewInlineDispatcher()
	validate := service.NewValidator()

	projectService := service.NewProjectService(store, blobs, locks, dispatcher, hub)
	scenarioService := service.NewScenarioService(store, blobs, locks, hub, validate)
	imageService := service.NewImageService(store, blobs, locks, dispatcher, hub)

	scriptClient := client.NewScriptClient(client.NewChatClient(&config.LLMConfig{}))
	imageWorker := worker.NewImageWorker(imageService, fakeInference{}, blobs)
	scriptWorker := worker.NewScriptWorker(projectService, scriptClient)
	dispatcher.Handle(imageWorker.Run, scriptWorker.Run)
	t.Cleanup(dispatcher.Wait)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret, 1)
	// rate limiter without redis lets every request through
	rateLimiter := middleware.NewRateLimiter(nil)

	app := fiber.New()
	api := app.Group("/api", authMiddleware.Authenticate())
	handler.Mount(api, handler.Handlers{
		Projects: handler.NewProjectHandler(projectService, validate),
		Scenario: handler.NewScenarioHandler(scenarioService, validate),
		Images:   handler.NewImageHandler(imageService, validate),
	}, handler.Limits{
		Script: rateLimiter.ScriptLimit(10000),
		Image:  rateLimiter.ImageLimit(10000),
	})

	return &testApp{app: app, dispatcher: dispatcher, store: store}
}

// generateToken creates an HMAC JWT token for test requests
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken(testJWTSecret, userID, "test@example.com", 0)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as the default test user
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doUserRequest(t, app, testUserID, method, path, body)
}

func doUserRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
}

// readBody reads and returns the response body as a string
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode returns error.code of an error envelope
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	result := parseJSON(t, resp)
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}

// createProject creates a project and waits for its mock script
func (ta *testApp) createProject(t *testing.T) int64 {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/projects",
		`{"project_name":"Coffee ad","product_description":"cold brew coffee"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	result := parseJSON(t, resp)
	ta.dispatcher.Wait()

	id, ok := result["project_id"].(float64)
	if !ok {
		t.Fatalf("expected project_id in response, got %v", result)
	}
	return int64(id)
}

func projectPath(id int64, suffix string) string {
	return fmt.Sprintf("/api/projects/%d%s", id, suffix)
}
