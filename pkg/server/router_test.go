// Package server 提供 HTTP Server 功能
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tonybentley/claude-mcp-scheduler/pkg/mcp"
	"github.com/tonybentley/claude-mcp-scheduler/pkg/scheduler"
)

// stubConn 始终就绪的工具连接
type stubConn struct{}

func (stubConn) IsReady() bool { return true }

func (stubConn) Connect(ctx context.Context) error { return nil }

func (stubConn) Disconnect() error { return nil }

// stubExecutor 固定返回结果的执行器
type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, prompt string, conn scheduler.ToolConnection) (string, error) {
	return "ok", nil
}

// stubTools 可编程的工具列表
type stubTools struct {
	ready   bool
	tools   []mcp.ToolInfo
	listErr error
}

func (s *stubTools) IsReady() bool { return s.ready }

func (s *stubTools) ListTools(ctx context.Context) ([]mcp.ToolInfo, error) {
	return s.tools, s.listErr
}

// setupTestServer 创建带两个活跃任务的测试服务器
func setupTestServer(t *testing.T, tools ToolLister) (*Server, *scheduler.Scheduler) {
	t.Helper()

	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(scheduler.Config{}, stubConn{}, stubExecutor{},
		scheduler.WithLogger(testLogger))
	t.Cleanup(func() {
		_ = sched.Shutdown(context.Background())
	})

	jobs := []scheduler.JobDefinition{
		{Name: "alpha", Cadence: "0 0 1 1 *", Enabled: true, Prompt: "p"},
		{Name: "beta", Cadence: "0 0 1 1 *", Enabled: true, Prompt: "p"},
	}
	if err := sched.Start(jobs); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	srv := NewServer(sched, tools, &ServerConfig{Host: "127.0.0.1", Port: 0, Mode: "test"})
	return srv, sched
}

// doRequest 执行一次测试请求并解析 JSON 响应
func doRequest(t *testing.T, srv *Server, method, path string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.GetEngine().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to parse response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, body
}

func TestServer_HealthCheck(t *testing.T) {
	srv, _ := setupTestServer(t, &stubTools{ready: true})

	code, body := doRequest(t, srv, http.MethodGet, "/health")
	if code != http.StatusOK {
		t.Fatalf("GET /health status = %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["tool_connected"] != true {
		t.Errorf("tool_connected = %v, want true", body["tool_connected"])
	}
}

func TestServer_ListTasks(t *testing.T) {
	srv, _ := setupTestServer(t, &stubTools{ready: true})

	code, body := doRequest(t, srv, http.MethodGet, "/api/v1/tasks")
	if code != http.StatusOK {
		t.Fatalf("GET /api/v1/tasks status = %d", code)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}

	tasks, ok := body["tasks"].([]any)
	if !ok || len(tasks) != 2 {
		t.Fatalf("tasks = %v", body["tasks"])
	}
	first := tasks[0].(map[string]any)
	if first["name"] != "alpha" {
		t.Errorf("First task = %v, want alpha (registration order)", first["name"])
	}
	if first["next_run"] == nil {
		t.Error("Task should expose a next_run estimate")
	}
}

func TestServer_GetTask(t *testing.T) {
	srv, _ := setupTestServer(t, &stubTools{ready: true})

	code, body := doRequest(t, srv, http.MethodGet, "/api/v1/tasks/alpha")
	if code != http.StatusOK {
		t.Fatalf("GET /api/v1/tasks/alpha status = %d", code)
	}
	task := body["task"].(map[string]any)
	if task["name"] != "alpha" {
		t.Errorf("task = %v", task)
	}

	code, _ = doRequest(t, srv, http.MethodGet, "/api/v1/tasks/ghost")
	if code != http.StatusNotFound {
		t.Errorf("GET unknown task status = %d, want 404", code)
	}
}

func TestServer_StopTask(t *testing.T) {
	srv, sched := setupTestServer(t, &stubTools{ready: true})

	code, _ := doRequest(t, srv, http.MethodDelete, "/api/v1/tasks/alpha")
	if code != http.StatusOK {
		t.Fatalf("DELETE /api/v1/tasks/alpha status = %d", code)
	}
	if sched.IsTaskActive("alpha") {
		t.Error("Task should be stopped")
	}
	if !sched.IsTaskActive("beta") {
		t.Error("Other tasks should stay active")
	}

	// 再停一次应当是 404
	code, _ = doRequest(t, srv, http.MethodDelete, "/api/v1/tasks/alpha")
	if code != http.StatusNotFound {
		t.Errorf("DELETE stopped task status = %d, want 404", code)
	}
}

func TestServer_StopAllTasks(t *testing.T) {
	srv, sched := setupTestServer(t, &stubTools{ready: true})

	code, body := doRequest(t, srv, http.MethodDelete, "/api/v1/tasks")
	if code != http.StatusOK {
		t.Fatalf("DELETE /api/v1/tasks status = %d", code)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
	if len(sched.GetActiveTasks()) != 0 {
		t.Error("No task should remain active")
	}
}

func TestServer_ListTools(t *testing.T) {
	tools := &stubTools{
		ready: true,
		tools: []mcp.ToolInfo{{Name: "read_file"}, {Name: "write_file"}},
	}
	srv, _ := setupTestServer(t, tools)

	code, body := doRequest(t, srv, http.MethodGet, "/api/v1/tools")
	if code != http.StatusOK {
		t.Fatalf("GET /api/v1/tools status = %d", code)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestServer_ListTools_NotReady(t *testing.T) {
	srv, _ := setupTestServer(t, &stubTools{ready: false})

	code, _ := doRequest(t, srv, http.MethodGet, "/api/v1/tools")
	if code != http.StatusServiceUnavailable {
		t.Errorf("GET /api/v1/tools status = %d, want 503", code)
	}
}

func TestServer_ListTools_Error(t *testing.T) {
	srv, _ := setupTestServer(t, &stubTools{ready: true, listErr: errors.New("pipe closed")})

	code, _ := doRequest(t, srv, http.MethodGet, "/api/v1/tools")
	if code != http.StatusInternalServerError {
		t.Errorf("GET /api/v1/tools status = %d, want 500", code)
	}
}
