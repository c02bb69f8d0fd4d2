package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGoFile(t *testing.T, root, rel, src string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
}

func TestGenerate(t *testing.T) {
	root := t.TempDir()
	writeGoFile(t, root, "core/turn.go", `package core

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `+"`json:\"role\"`"+`
	Content string `+"`json:\"content\"`"+`
}
`)
	writeGoFile(t, root, "protocol/messages.go", `package protocol

import "example/core"

type MessageType string

const (
	MsgSubmit MessageType = "submit"
	MsgResult MessageType = "result"
)

type UploadDocumentPayload struct {
	Filename string `+"`json:\"filename\"`"+`
	Data     []byte `+"`json:\"data\"`"+`
}

type SessionPayload struct {
	Transcript []core.Turn `+"`json:\"transcript\"`"+`
	Note       string      `+"`json:\"note,omitempty\"`"+`
}
`)
	writeGoFile(t, root, "services/llm/config.go", `package llm

import "time"

type Config struct {
	APIKey  string        `+"`json:\"api_key\"`"+`
	Timeout time.Duration `+"`json:\"timeout\"`"+`
}
`)
	writeGoFile(t, root, "_ignored/skip.go", `package skip

type Hidden struct {
	X int `+"`json:\"x\"`"+`
}
`)

	var warn bytes.Buffer
	out, err := newGenerator([]target{
		{"Turn", "Turn"},
		{"UploadDocumentPayload", "UploadDocumentPayload"},
		{"SessionPayload", "SessionPayload"},
		{"services/llm:Config", "LlmConfig"},
		{"Hidden", "Hidden"},
	}).Generate(root, &warn)
	require.NoError(t, err)
	ts := string(out)

	assert.Contains(t, ts, "export type MessageType = 'submit' | 'result'\n")
	assert.Contains(t, ts, "export type Role = 'user' | 'assistant'\n")
	assert.Contains(t, ts, "export interface Turn {\n  role: Role\n  content: string\n}")
	assert.Contains(t, ts, "  filename: string\n  data: string\n")
	assert.Contains(t, ts, "  transcript: Turn[]\n  note?: string\n")
	assert.Contains(t, ts, "export interface LlmConfig {\n  timeout?: number\n}")
	assert.NotContains(t, ts, "api_key")
	assert.NotContains(t, ts, "interface Hidden")
	assert.Contains(t, warn.String(), `struct "Hidden" not found`)
}

func TestGenerateRequiredFieldsOverride(t *testing.T) {
	root := t.TempDir()
	writeGoFile(t, root, "core/log.go", `package core

type LogEntry struct {
	Timestamp string `+"`json:\"ts\"`"+`
	Level     string `+"`json:\"level\"`"+`
	Message   string `+"`json:\"msg\"`"+`
	Attrs     map[string]any `+"`json:\"attrs,omitempty\"`"+`
}
`)
	out, err := newGenerator([]target{{"LogEntry", "LogEntry"}}).Generate(root, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "  ts: string\n  level: string\n  msg: string\n  attrs?: Record<string, unknown>\n")
}

func TestResolveType(t *testing.T) {
	g := newGenerator([]target{{"Turn", "Turn"}})
	g.aliases["Level"] = "int"

	assert.Equal(t, "number", g.resolveType("*int64"))
	assert.Equal(t, "Turn[]", g.resolveType("[]core.Turn"))
	assert.Equal(t, "number", g.resolveType("core.Level"))
	assert.Equal(t, "string[]", g.resolveType("[]string"))
	assert.Equal(t, "Record<string, unknown>", g.resolveType("map[string]int"))
	assert.Equal(t, "unknown", g.resolveType("sync.Mutex"))
}
