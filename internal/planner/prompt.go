package planner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"bobchad/internal/tools"
)

const planContract = `You draft work orders for a code-maintenance executor.
Reply with exactly one JSON object and nothing else:
{"task_type":"tool|codemod|info","tool":"<name>","args":{},"target_paths":["rel/path"],
 "instructions":"<text>","edits":[{"path":"rel/path","op":"modify|create","symbol":"<definition>",
 "replacement":"<full new source of the definition>","content":"<file body for create>"}],
 "response":"<text for info>"}
Rules:
- Paths are relative to the project root.
- A modify edit replaces one existing named definition in place. Never wrap, rename or duplicate it.
- Keep every other line of the file unchanged, including log messages.
- Use create only for files that do not exist.
- Use info when no change is needed.`

const rewriteContract = `You rewrite exactly one source definition.
Reply with the complete new source of that definition only, starting at its
def/class/func line. Keep its name and signature unless told otherwise.
Do not add wrappers, other definitions or commentary.`

func catalog(specs []tools.Spec) string {
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, s := range specs {
		args := make([]string, 0, len(s.Schema.Properties))
		for name := range s.Schema.Properties {
			args = append(args, name)
		}
		sort.Strings(args)
		fmt.Fprintf(&b, "- %s (%s): %s args=%v\n", s.Name, s.SideEffect, s.Description, args)
	}
	return b.String()
}

func advisoryBlock(advisory []string) string {
	if len(advisory) == 0 {
		return ""
	}
	return "Operator rules:\n- " + strings.Join(advisory, "\n- ") + "\n"
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// stripCodeFences removes a markdown fence around a model reply.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	first := strings.Index(trimmed, "\n")
	last := strings.LastIndex(trimmed, "```")
	if first == -1 || last <= first {
		return trimmed
	}
	return strings.TrimSpace(trimmed[first+1 : last])
}
