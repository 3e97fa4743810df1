package command

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldBool
	FieldDuration
	FieldStringList
	FieldJSON
)

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
}

// Command defines a CLI command binding.
type Command struct {
	Group        string
	Action       string
	Method       string
	PathTemplate string
	Usage        string
	Fields       []Field
}

// Key returns the registry key of the command.
func (c Command) Key() string {
	return c.Group + " " + c.Action
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ParseParams splits key=value tokens.
func ParseParams(tokens []string) (Params, error) {
	params := Params{}
	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param: %s", token)
		}
		params.Set(key, value)
	}
	return params, nil
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

func ParseBool(value string) (bool, error) {
	if strings.TrimSpace(value) == "" {
		return true, nil
	}
	return strconv.ParseBool(strings.TrimSpace(value))
}

// ParseDuration accepts Go durations or plain milliseconds.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}

func ParseStringList(value string) []string {
	raw := strings.Split(value, ",")
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}

func ParseJSON(value string) (json.RawMessage, error) {
	raw := strings.TrimSpace(value)
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("invalid json content")
	}
	return json.RawMessage(raw), nil
}
