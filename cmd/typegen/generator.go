package main

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
)

// target is one Go struct to emit. Name may be qualified as "rel/dir:Struct"
// when several packages declare a struct with the same name.
type target struct {
	Name   string
	TSName string
}

// defaultTargets lists the structs to include, in output order.
func defaultTargets() []target {
	return []target{
		// Websocket protocol
		{"Envelope", "Envelope"},
		{"SubmitPayload", "SubmitPayload"},
		{"SetDocumentPayload", "SetDocumentPayload"},
		{"UploadDocumentPayload", "UploadDocumentPayload"},
		{"SessionPayload", "SessionPayload"},
		{"ChunkPayload", "ChunkPayload"},
		{"ResultPayload", "ResultPayload"},
		{"ErrorPayload", "ErrorPayload"},
		{"EventPayload", "EventPayload"},
		{"TranscriptPayload", "TranscriptPayload"},
		{"LogPayload", "LogPayload"},
		// Core types carried in payloads
		{"Turn", "Turn"},
		{"LogEntry", "LogEntry"},
		{"AudioHandle", "AudioHandle"},
		// Settings
		{"SettingsConfig", "Settings"},
		{"HistoryFactoryConfig", "HistoryConfig"},
		{"MemoryHistoryConfig", "MemoryHistoryConfig"},
		{"FileHistoryConfig", "FileHistoryConfig"},
		{"SQLHistoryConfig", "SqlHistoryConfig"},
		{"LLMFactoryConfig", "LlmServiceConfig"},
		{"services/openai/llm:Config", "OpenAiLlmConfig"},
		{"LLMHandlerConfig", "StreamConfig"},
		{"ContextConfig", "ContextConfig"},
		{"SessionTTSConfig", "TtsConfig"},
		{"TTSConfig", "TtsHandlerConfig"},
		{"TTSFactoryConfig", "TtsServiceConfig"},
		{"DepgramTTSConfig", "DeepgramTtsConfig"},
		{"ElevenLabsTTSConfig", "ElevenLabsTtsConfig"},
		{"CartesiaTTSConfig", "CartesiaTtsConfig"},
		{"AudioConfig", "AudioConfig"},
		{"services/document/extract:Config", "DocumentConfig"},
		{"ServerConfig", "ServerConfig"},
	}
}

// requiredFields lists struct+field combos that stay required in the output
// even though settings fields default to optional. Protocol payloads are
// always fully populated on the wire.
var requiredFields = map[string]map[string]bool{
	"Envelope":          {"type": true},
	"SubmitPayload":     {"text": true},
	"ChunkPayload":      {"text": true},
	"ResultPayload":     {"text": true},
	"ErrorPayload":      {"kind": true, "message": true},
	"EventPayload":      {"id": true, "ts": true},
	"SessionPayload":    {"model": true, "transcript": true, "has_document": true, "document_length": true},
	"TranscriptPayload": {"turns": true},
	"LogPayload":        {"entry": true},
	"Turn":              {"role": true, "content": true},
	"LogEntry":          {"ts": true, "level": true, "msg": true},
}

// requiredPackages are directories whose structs are wire payloads: all
// fields without omitempty are required.
var requiredPackages = []string{"protocol"}

// typeMapping maps Go type strings to TypeScript type strings.
var typeMapping = map[string]string{
	"string":                 "string",
	"int":                    "number",
	"int8":                   "number",
	"int16":                  "number",
	"int32":                  "number",
	"int64":                  "number",
	"uint":                   "number",
	"uint8":                  "number",
	"uint16":                 "number",
	"uint32":                 "number",
	"uint64":                 "number",
	"float32":                "number",
	"float64":                "number",
	"bool":                   "boolean",
	"any":                    "unknown",
	"interface{}":            "unknown",
	"json.RawMessage":        "unknown",
	"[]byte":                 "string", // base64 on the wire
	"time.Duration":          "number", // nanoseconds
	"time.Time":              "string",
	"map[string]string":      "Record<string, string>",
	"map[string]interface{}": "Record<string, unknown>",
	"map[string]any":         "Record<string, unknown>",
}

type structInfo struct {
	name   string
	dir    string
	fields []fieldInfo
}

type fieldInfo struct {
	jsonName  string
	goType    string
	omitempty bool
	isPointer bool
}

// generator holds everything parsed from the tree.
type generator struct {
	targets []target
	// structs is keyed by plain name (first wins) and by "rel/dir:Name".
	structs map[string]*structInfo
	// aliases maps named types such as Role to their underlying primitive.
	aliases map[string]string
	// constValues maps a named type to its declared string constants.
	constValues map[string][]string
	// tsRefs maps a Go struct name to the TS interface emitted for it.
	tsRefs map[string]string
}

func newGenerator(targets []target) *generator {
	g := &generator{
		targets:     targets,
		structs:     map[string]*structInfo{},
		aliases:     map[string]string{},
		constValues: map[string][]string{},
		tsRefs:      map[string]string{},
	}
	for _, t := range targets {
		g.tsRefs[t.Name] = t.TSName
		if idx := strings.LastIndex(t.Name, ":"); idx >= 0 {
			g.tsRefs[t.Name[idx+1:]] = t.TSName
		}
	}
	return g
}

// Generate parses every package under root and renders the TypeScript file.
// Missing targets are reported to warn and skipped.
func (g *generator) Generate(root string, warn io.Writer) ([]byte, error) {
	dirs, err := discoverGoDirs(root)
	if err != nil {
		return nil, fmt.Errorf("discover dirs: %w", err)
	}
	for _, dir := range dirs {
		rel, _ := filepath.Rel(root, dir)
		if err := g.parseDir(dir, filepath.ToSlash(rel)); err != nil {
			fmt.Fprintf(warn, "warning: skipping %s: %v\n", rel, err)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("// Code generated by cmd/typegen; DO NOT EDIT.\n")
	buf.WriteString("//\n")
	buf.WriteString("// Regenerate: go run ./cmd/typegen --out ui/src/types/generated.ts\n\n")

	g.writeUnion(&buf, "MessageType", "MessageType")
	g.writeUnion(&buf, "Role", "Role")

	for _, t := range g.targets {
		si, ok := g.structs[t.Name]
		if !ok {
			fmt.Fprintf(warn, "warning: struct %q not found, skipping\n", t.Name)
			continue
		}
		g.writeInterface(&buf, t, si)
	}
	return buf.Bytes(), nil
}

// discoverGoDirs walks the project tree and returns all directories containing
// non-test .go files, skipping vendor, underscore directories and the
// typegen cmd itself.
func discoverGoDirs(root string) ([]string, error) {
	skipDirs := map[string]bool{
		"vendor":       true,
		"node_modules": true,
		".git":         true,
		"typegen":      true,
	}

	seen := map[string]bool{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path != root && (skipDirs[info.Name()] || strings.HasPrefix(info.Name(), "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(info.Name(), ".go") && !strings.HasSuffix(info.Name(), "_test.go") {
			seen[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (g *generator) parseDir(dir, rel string) error {
	fset := token.NewFileSet()
	pkgs, err := parser.ParseDir(fset, dir, func(fi os.FileInfo) bool {
		return !strings.HasSuffix(fi.Name(), "_test.go")
	}, 0)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(pkgs))
	for name := range pkgs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		files := pkgs[name].Files
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			for _, decl := range files[p].Decls {
				genDecl, ok := decl.(*ast.GenDecl)
				if !ok {
					continue
				}
				switch genDecl.Tok {
				case token.TYPE:
					g.collectTypes(genDecl, rel)
				case token.CONST:
					g.collectConsts(genDecl)
				}
			}
		}
	}
	return nil
}

func (g *generator) collectTypes(decl *ast.GenDecl, rel string) {
	for _, spec := range decl.Specs {
		ts, ok := spec.(*ast.TypeSpec)
		if !ok {
			continue
		}
		if ident, ok := ts.Type.(*ast.Ident); ok {
			g.aliases[ts.Name.Name] = ident.Name
			continue
		}
		st, ok := ts.Type.(*ast.StructType)
		if !ok {
			continue
		}
		si := parseStruct(ts.Name.Name, st, rel)
		g.structs[rel+":"+si.name] = si
		if _, exists := g.structs[si.name]; !exists {
			g.structs[si.name] = si
		}
	}
}

// collectConsts records typed string constants, e.g. MsgSubmit MessageType = "submit".
func (g *generator) collectConsts(decl *ast.GenDecl) {
	for _, spec := range decl.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok || vs.Type == nil {
			continue
		}
		typeName := typeExprToString(vs.Type)
		for _, val := range vs.Values {
			lit, ok := val.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			g.constValues[typeName] = append(g.constValues[typeName], strings.Trim(lit.Value, "\""))
		}
	}
}

func parseStruct(name string, st *ast.StructType, dir string) *structInfo {
	si := &structInfo{name: name, dir: dir}
	for _, field := range st.Fields.List {
		if field.Tag == nil {
			continue
		}
		tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
		parts := strings.Split(tag.Get("json"), ",")
		jsonName := parts[0]
		if jsonName == "" || jsonName == "-" || isSecretField(jsonName) {
			continue
		}
		fi := fieldInfo{
			jsonName:  jsonName,
			goType:    typeExprToString(field.Type),
			isPointer: isPointerType(field.Type),
		}
		for _, p := range parts[1:] {
			if p == "omitempty" {
				fi.omitempty = true
			}
		}
		si.fields = append(si.fields, fi)
	}
	return si
}

// isSecretField reports fields that come from the environment and never
// belong in settings.json or a browser bundle.
func isSecretField(jsonName string) bool {
	return jsonName == "api_key" || jsonName == "dsn"
}

func typeExprToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + typeExprToString(t.X)
	case *ast.ArrayType:
		return "[]" + typeExprToString(t.Elt)
	case *ast.MapType:
		return "map[" + typeExprToString(t.Key) + "]" + typeExprToString(t.Value)
	case *ast.SelectorExpr:
		return typeExprToString(t.X) + "." + t.Sel.Name
	case *ast.InterfaceType:
		return "interface{}"
	default:
		return "unknown"
	}
}

func isPointerType(expr ast.Expr) bool {
	_, ok := expr.(*ast.StarExpr)
	return ok
}

// resolveType converts a Go type string to a TypeScript type string.
func (g *generator) resolveType(goType string) string {
	clean := strings.TrimPrefix(goType, "*")

	if ts, ok := typeMapping[clean]; ok {
		return ts
	}
	if strings.HasPrefix(clean, "[]") {
		return g.resolveType(clean[2:]) + "[]"
	}
	if strings.HasPrefix(clean, "map[") {
		return "Record<string, unknown>"
	}

	// Qualified names such as core.Turn resolve by their short name.
	short := clean
	if idx := strings.LastIndex(clean, "."); idx >= 0 {
		short = clean[idx+1:]
	}
	if tsRef, ok := g.tsRefs[short]; ok {
		return tsRef
	}
	if short == "MessageType" || short == "Role" {
		return short
	}
	if vals, ok := g.constValues[short]; ok && len(vals) > 0 {
		return buildUnionLiteral(vals)
	}
	if underlying, ok := g.aliases[short]; ok {
		return g.resolveType(underlying)
	}
	return "unknown"
}

// buildUnionLiteral returns a TS inline union type from string values.
// e.g. ["user", "assistant"] -> "'user' | 'assistant'"
func buildUnionLiteral(vals []string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + v + "'"
	}
	return strings.Join(quoted, " | ")
}

func (g *generator) writeUnion(buf *bytes.Buffer, goName, tsName string) {
	vals := g.constValues[goName]
	if len(vals) == 0 {
		return
	}
	fmt.Fprintf(buf, "/** Generated from Go type: %s */\n", goName)
	fmt.Fprintf(buf, "export type %s = %s\n\n", tsName, buildUnionLiteral(vals))
}

// writeInterface writes one TypeScript interface. Settings fields default
// to optional since the Go side fills defaults and JSON only carries
// overrides; protocol fields are required unless omitempty.
func (g *generator) writeInterface(buf *bytes.Buffer, t target, si *structInfo) {
	wire := false
	for _, dir := range requiredPackages {
		if si.dir == dir {
			wire = true
		}
	}
	required := requiredFields[si.name]

	fmt.Fprintf(buf, "/** Generated from Go struct: %s */\n", t.Name)
	fmt.Fprintf(buf, "export interface %s {\n", t.TSName)
	for _, f := range si.fields {
		opt := "?"
		if required[f.jsonName] || (wire && !f.omitempty && !f.isPointer) {
			opt = ""
		}
		fmt.Fprintf(buf, "  %s%s: %s\n", f.jsonName, opt, g.resolveType(f.goType))
	}
	buf.WriteString("}\n\n")
}
