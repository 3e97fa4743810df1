package command_test

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"runcell/internal/cli/command"
)

type runPayload struct {
	Sources        map[string]string `json:"sources"`
	CompileOptions map[string]bool   `json:"compileOptions"`
	Run            struct {
		EntryClass       string            `json:"entryClass"`
		Timeout          int64             `json:"timeout"`
		Permissions      []json.RawMessage `json:"permissions"`
		UnsafeExceptions []string          `json:"unsafeExceptions"`
		MaxExtraThreads  int               `json:"maxExtraThreads"`
		WaitForShutdown  bool              `json:"waitForShutdown"`
		ClassLoader      struct {
			Blacklist []string `json:"blacklist"`
		} `json:"classLoader"`
		Plugins struct {
			LineTrace *struct {
				MaxSteps int `json:"maxSteps"`
			} `json:"lineTrace"`
		} `json:"plugins"`
	} `json:"run"`
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write source failed: %v", err)
	}
	return path
}

func TestBuildRunRequest(t *testing.T) {
	dir := t.TempDir()
	mainPath := writeSource(t, dir, "Main.cell", "class Main\n")
	utilPath := writeSource(t, dir, "Util.cell", "class Util\n")

	cmd := command.Registry()["run start"]
	params, err := command.ParseParams([]string{
		"f=" + mainPath + "," + utilPath,
		"entry=Main",
		"timeout=2s",
		`perms=[{"type":"property","target":"os.name","action":"read"}]`,
		"unsafe=Error",
		"threads=2",
		"wait=true",
		"blacklist=Reflect",
		"line_trace=50",
		"no_cache=",
	})
	if err != nil {
		t.Fatalf("parse params failed: %v", err)
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != http.MethodPost || req.Path != "/api/v1/run" {
		t.Fatalf("unexpected request line: %s %s", req.Method, req.Path)
	}

	var payload runPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if payload.Sources["Main.cell"] != "class Main\n" || payload.Sources["Util.cell"] != "class Util\n" {
		t.Fatalf("unexpected sources: %v", payload.Sources)
	}
	if payload.Run.EntryClass != "Main" || payload.Run.Timeout != 2000 {
		t.Fatalf("unexpected run options: %+v", payload.Run)
	}
	if len(payload.Run.Permissions) != 1 || len(payload.Run.UnsafeExceptions) != 1 || payload.Run.MaxExtraThreads != 2 {
		t.Fatalf("unexpected policy options: %+v", payload.Run)
	}
	if !payload.Run.WaitForShutdown {
		t.Fatalf("expected waitForShutdown")
	}
	if len(payload.Run.ClassLoader.Blacklist) != 1 || payload.Run.ClassLoader.Blacklist[0] != "Reflect" {
		t.Fatalf("unexpected class loader: %+v", payload.Run.ClassLoader)
	}
	if payload.Run.Plugins.LineTrace == nil || payload.Run.Plugins.LineTrace.MaxSteps != 50 {
		t.Fatalf("expected line trace plugin")
	}
	if payload.CompileOptions["useCache"] || !payload.CompileOptions["emitLineNumbers"] {
		t.Fatalf("unexpected compile options: %v", payload.CompileOptions)
	}
}

func TestBuildRunRequestDefaultsOmitCompileOptions(t *testing.T) {
	path := writeSource(t, t.TempDir(), "Main.cell", "class Main\n")
	params, _ := command.ParseParams([]string{"files=" + path})
	req, err := command.BuildRequest(command.Registry()["run start"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(req.Body, &raw); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if _, ok := raw["compileOptions"]; ok {
		t.Fatalf("expected server defaults for compile options")
	}
}

func TestBuildRunRequestErrors(t *testing.T) {
	path := writeSource(t, t.TempDir(), "Main.cell", "class Main\n")
	cases := []struct {
		name   string
		tokens []string
	}{
		{name: "missing files", tokens: []string{"entry=Main"}},
		{name: "unreadable file", tokens: []string{"files=" + filepath.Join(t.TempDir(), "nope.cell")}},
		{name: "bad timeout", tokens: []string{"files=" + path, "timeout=soon"}},
		{name: "bad permissions", tokens: []string{"files=" + path, "permissions=[{"}},
		{name: "bad threads", tokens: []string{"files=" + path, "threads=many"}},
		{name: "duplicate names", tokens: []string{"files=" + path + "," + path}},
	}
	for _, tc := range cases {
		params, err := command.ParseParams(tc.tokens)
		if err != nil {
			t.Fatalf("%s: parse params failed: %v", tc.name, err)
		}
		if _, err := command.BuildRequest(command.Registry()["run start"], params); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestBuildKillRequest(t *testing.T) {
	params, _ := command.ParseParams([]string{"run_id=abc"})
	req, err := command.BuildRequest(command.Registry()["run kill"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != http.MethodDelete || req.Path != "/api/v1/runs/abc" || req.Body != nil {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestParseParams(t *testing.T) {
	if _, err := command.ParseParams([]string{"novalue"}); err == nil {
		t.Fatalf("expected error for token without '='")
	}
	params, err := command.ParseParams([]string{"Entry=Main", "json={\"a\":1}"})
	if err != nil {
		t.Fatalf("parse params failed: %v", err)
	}
	if params.Get("entry") != "Main" || params.Get("JSON") != `{"a":1}` {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]int64{"1500": 1500, "2s": 2000, "250ms": 250}
	for in, want := range cases {
		got, err := command.ParseDuration(in)
		if err != nil || got.Milliseconds() != want {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %dms", in, got, err, want)
		}
	}
}
