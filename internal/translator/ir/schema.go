package ir

import (
	"strings"

	log "github.com/nghyane/claude-relay/internal/logging"
)

// BuiltinKind classifies Claude server- and client-defined tools that arrive
// without an input_schema.
type BuiltinKind int

const (
	BuiltinCustom BuiltinKind = iota
	BuiltinBash
	BuiltinTextEditor
	BuiltinComputer
	BuiltinWebSearch
	BuiltinCodeExecution
	BuiltinUnknown
)

func (k BuiltinKind) String() string {
	switch k {
	case BuiltinCustom:
		return "custom"
	case BuiltinBash:
		return "bash"
	case BuiltinTextEditor:
		return "text_editor"
	case BuiltinComputer:
		return "computer"
	case BuiltinWebSearch:
		return "web_search"
	case BuiltinCodeExecution:
		return "code_execution"
	default:
		return "unknown"
	}
}

// ClassifyToolType maps a Claude tool "type" (e.g. "bash_20250124") to a kind.
// An empty type or "custom" is a schema-carrying tool.
func ClassifyToolType(toolType string) BuiltinKind {
	t := strings.ToLower(strings.TrimSpace(toolType))
	switch {
	case t == "" || t == "custom":
		return BuiltinCustom
	case strings.HasPrefix(t, "bash_"):
		return BuiltinBash
	case strings.HasPrefix(t, "text_editor_"):
		return BuiltinTextEditor
	case strings.HasPrefix(t, "computer_"):
		return BuiltinComputer
	case strings.HasPrefix(t, "web_search_"):
		return BuiltinWebSearch
	case strings.HasPrefix(t, "code_execution_"):
		return BuiltinCodeExecution
	default:
		return BuiltinUnknown
	}
}

var builtinSchemas = map[BuiltinKind]func() map[string]any{
	BuiltinBash:          bashSchema,
	BuiltinTextEditor:    textEditorSchema,
	BuiltinComputer:      computerSchema,
	BuiltinWebSearch:     webSearchSchema,
	BuiltinCodeExecution: codeExecutionSchema,
}

// ToolParameters returns the JSON schema sent upstream for def. Custom tools
// keep their own schema; built-ins get a synthesized one; unknown built-ins
// fall back to an empty object schema.
func ToolParameters(def ToolDefinition) map[string]any {
	if def.Kind == BuiltinCustom {
		if len(def.Parameters) == 0 {
			return emptyObjectSchema()
		}
		return def.Parameters
	}
	if synth, ok := builtinSchemas[def.Kind]; ok {
		return synth()
	}
	log.TranslationWarnf("unknown_builtin", "tool %q has unrecognized built-in type %q, sending empty object schema", def.Name, def.BuiltinType)
	return emptyObjectSchema()
}

// BuiltinDescription gives built-in tools a usable description upstream,
// since Claude omits one for them.
func BuiltinDescription(def ToolDefinition) string {
	if def.Description != "" {
		return def.Description
	}
	switch def.Kind {
	case BuiltinBash:
		return "Run a shell command in a persistent bash session."
	case BuiltinTextEditor:
		return "View, create and edit files using commands: view, create, str_replace, insert, undo_edit."
	case BuiltinComputer:
		return "Control the computer screen, keyboard and mouse."
	case BuiltinWebSearch:
		return "Search the web and return relevant results."
	case BuiltinCodeExecution:
		return "Execute code in a sandbox and return its output."
	}
	return ""
}

func emptyObjectSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return map[string]any{"type": "string", "description": desc, "enum": vals}
}

func bashSchema() map[string]any {
	return objectSchema(map[string]any{
		"command": prop("string", "The bash command to run."),
		"restart": prop("boolean", "Restart the bash session."),
	})
}

func textEditorSchema() map[string]any {
	return objectSchema(map[string]any{
		"command":     enumProp("The operation to perform.", "view", "create", "str_replace", "insert", "undo_edit"),
		"path":        prop("string", "Absolute path to the file or directory."),
		"file_text":   prop("string", "Content for the create command."),
		"old_str":     prop("string", "Text to replace for str_replace."),
		"new_str":     prop("string", "Replacement text for str_replace or insert."),
		"insert_line": prop("integer", "Line number after which to insert."),
		"view_range": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "integer"},
			"description": "Optional [start, end] line range for view.",
		},
	}, "command", "path")
}

func computerSchema() map[string]any {
	return objectSchema(map[string]any{
		"action": enumProp("The action to perform.",
			"key", "type", "mouse_move", "left_click", "left_click_drag", "right_click",
			"middle_click", "double_click", "screenshot", "cursor_position", "scroll", "wait"),
		"coordinate": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "integer"},
			"description": "[x, y] screen coordinate.",
		},
		"text": prop("string", "Text to type or key combination to press."),
	}, "action")
}

func webSearchSchema() map[string]any {
	return objectSchema(map[string]any{
		"query": prop("string", "The search query."),
	}, "query")
}

func codeExecutionSchema() map[string]any {
	return objectSchema(map[string]any{
		"code": prop("string", "The code to execute."),
	}, "code")
}
