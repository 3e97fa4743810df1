package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// Registry returns all CLI commands.
func Registry() map[string]Command {
	commands := []Command{
		{
			Group:        "run",
			Action:       "start",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/run",
			Usage:        "run start files=Main.cell[,Util.cell] entry=Main [timeout=2s] [permissions='[...]'] [unsafe=Error] [threads=0] [max_lines=0] [wait] [line_trace=100] [no_cache]",
			Fields: []Field{
				{Name: "files", Aliases: []string{"file", "f"}, Prompt: "Source files (comma separated)", Type: FieldStringList, Required: true},
				{Name: "entry", Aliases: []string{"class"}, Prompt: "Entry class", Type: FieldString},
				{Name: "method", Type: FieldString},
				{Name: "timeout", Type: FieldDuration},
				{Name: "permissions", Aliases: []string{"perms"}, Type: FieldJSON},
				{Name: "unsafe", Type: FieldStringList},
				{Name: "threads", Aliases: []string{"max_extra_threads"}, Type: FieldInt},
				{Name: "max_lines", Aliases: []string{"max_output_lines"}, Type: FieldInt},
				{Name: "wait", Aliases: []string{"wait_for_shutdown"}, Type: FieldBool},
				{Name: "whitelist", Type: FieldStringList},
				{Name: "blacklist", Type: FieldStringList},
				{Name: "line_trace", Type: FieldInt},
				{Name: "no_cache", Type: FieldBool},
				{Name: "line_numbers", Type: FieldBool},
				{Name: "werror", Type: FieldBool},
			},
		},
		{
			Group:        "run",
			Action:       "kill",
			Method:       http.MethodDelete,
			PathTemplate: "/api/v1/runs/:id",
			Usage:        "run kill id=<run id>",
			Fields: []Field{
				{Name: "id", Aliases: []string{"run_id"}, Prompt: "Run ID", Type: FieldString, Required: true},
			},
		},
		{
			Group:        "server",
			Action:       "status",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/status",
			Usage:        "server status",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// BuildRequest turns a command and its params into an HTTP request.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			return RequestSpec{}, fmt.Errorf("missing parameter: %s", field.Name)
		}
	}
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != http.MethodGet && cmd.Method != http.MethodDelete {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	if strings.Contains(path, ":id") {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", value)
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Key() == "run start" {
		return buildRunPayload(params)
	}
	return nil, nil
}

func buildRunPayload(params Params) (interface{}, error) {
	sources := map[string]string{}
	for _, file := range ParseStringList(params.Get("files")) {
		content, err := ReadFile(file)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(file)
		if _, dup := sources[name]; dup {
			return nil, fmt.Errorf("duplicate source file name: %s", name)
		}
		sources[name] = content
	}

	run := map[string]interface{}{}
	if entry := params.Get("entry"); entry != "" {
		run["entryClass"] = entry
	}
	if method := params.Get("method"); method != "" {
		run["entryMethod"] = method
	}
	if params.Get("timeout") != "" {
		timeout, err := ParseDuration(params.Get("timeout"))
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		run["timeout"] = timeout.Milliseconds()
	}
	if params.Get("permissions") != "" {
		raw, err := ParseJSON(params.Get("permissions"))
		if err != nil {
			return nil, fmt.Errorf("invalid permissions: %w", err)
		}
		run["permissions"] = raw
	}
	if params.Get("unsafe") != "" {
		run["unsafeExceptions"] = ParseStringList(params.Get("unsafe"))
	}
	for key, field := range map[string]string{"threads": "maxExtraThreads", "max_lines": "maxOutputLines"} {
		if params.Get(key) == "" {
			continue
		}
		n, err := ParseInt(params.Get(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		run[field] = n
	}
	if params.Has("wait") {
		wait, err := ParseBool(params.Get("wait"))
		if err != nil {
			return nil, fmt.Errorf("invalid wait: %w", err)
		}
		run["waitForShutdown"] = wait
	}
	loader := map[string][]string{}
	if params.Get("whitelist") != "" {
		loader["whitelist"] = ParseStringList(params.Get("whitelist"))
	}
	if params.Get("blacklist") != "" {
		loader["blacklist"] = ParseStringList(params.Get("blacklist"))
	}
	if len(loader) > 0 {
		run["classLoader"] = loader
	}
	if params.Get("line_trace") != "" {
		steps, err := ParseInt(params.Get("line_trace"))
		if err != nil {
			return nil, fmt.Errorf("invalid line_trace: %w", err)
		}
		run["plugins"] = map[string]interface{}{
			"lineTrace": map[string]int{"maxSteps": steps},
		}
	}

	payload := map[string]interface{}{
		"sources": sources,
		"run":     run,
	}
	compile, err := buildCompilePayload(params)
	if err != nil {
		return nil, err
	}
	if compile != nil {
		payload["compileOptions"] = compile
	}
	return payload, nil
}

func buildCompilePayload(params Params) (map[string]bool, error) {
	if !params.Has("no_cache") && !params.Has("line_numbers") && !params.Has("werror") {
		return nil, nil
	}
	opts := map[string]bool{"useCache": true, "emitLineNumbers": true}
	flags := []struct {
		param  string
		field  string
		invert bool
	}{
		{param: "no_cache", field: "useCache", invert: true},
		{param: "line_numbers", field: "emitLineNumbers"},
		{param: "werror", field: "warningsAsErrors"},
	}
	for _, flag := range flags {
		if !params.Has(flag.param) {
			continue
		}
		value, err := ParseBool(params.Get(flag.param))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", flag.param, err)
		}
		if flag.invert {
			value = !value
		}
		opts[flag.field] = value
	}
	return opts, nil
}
