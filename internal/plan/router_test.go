package plan

import (
	"errors"
	"testing"

	"bobchad/internal/rules"
	"bobchad/internal/tools"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeCatalog map[string]tools.Spec

func (c fakeCatalog) Lookup(name string) (tools.Spec, bool) {
	s, ok := c[name]
	return s, ok
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"read_file":         {Name: "read_file", SideEffect: tools.ReadOnly, PathArgs: []string{"path"}},
		"run_python_script": {Name: "run_python_script", SideEffect: tools.MutatesFilesystem, PathArgs: []string{"path"}},
		"send_email":        {Name: "send_email", SideEffect: tools.ExternalEffect},
	}
}

func book(texts ...string) *rules.Book {
	var rs []rules.Rule
	for i, t := range texts {
		rs = append(rs, rules.Rule{ID: int64(i + 1), Text: t})
	}
	return rules.NewBook(rs)
}

func requireKind(t *testing.T, err error, kind ValidationKind) *ValidationError {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrValidation))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, kind, ve.Kind, ve.Error())
	return ve
}

func TestRouteTool(t *testing.T) {
	r := NewRouter(testCatalog(), nil, "/proj")

	act, err := r.Route(&Plan{
		TaskType:     TaskTool,
		Tool:         "read_file",
		Args:         map[string]any{"path": "/proj/src/a.txt"},
		ProvenanceID: "req-1",
	})
	require.NoError(t, err)

	want := &ToolAction{
		Provenance: Provenance{ID: "req-1"},
		Tool:       "read_file",
		Args:       map[string]any{"path": "/proj/src/a.txt"},
		Replayable: true,
		paths:      []string{"src/a.txt"},
	}
	if diff := cmp.Diff(want, act, cmp.AllowUnexported(ToolAction{})); diff != "" {
		t.Fatalf("routed action mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"src/a.txt"}, act.Paths())
}

func TestRouteExternalToolIsNotReplayable(t *testing.T) {
	r := NewRouter(testCatalog(), nil, "/proj")
	act, err := r.Route(&Plan{TaskType: TaskTool, Tool: "send_email", ProvenanceID: "p"})
	require.NoError(t, err)
	require.False(t, act.(*ToolAction).Replayable)
}

func TestRouteValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		plan  *Plan
		book  *rules.Book
		kind  ValidationKind
		field string
	}{
		{
			name: "nil plan",
			kind: KindMissingField,
		},
		{
			name:  "missing provenance",
			plan:  &Plan{TaskType: TaskInfo, Response: "hi"},
			kind:  KindMissingField,
			field: "provenance_id",
		},
		{
			name:  "unknown task type",
			plan:  &Plan{TaskType: "dance", ProvenanceID: "p"},
			kind:  KindUnknownTaskType,
			field: "task_type",
		},
		{
			name:  "tool without name",
			plan:  &Plan{TaskType: TaskTool, ProvenanceID: "p"},
			kind:  KindMissingField,
			field: "tool",
		},
		{
			name:  "unknown tool",
			plan:  &Plan{TaskType: TaskTool, Tool: "rm_rf", ProvenanceID: "p"},
			kind:  KindUnknownTool,
			field: "tool",
		},
		{
			name:  "edits on tool plan",
			plan:  &Plan{TaskType: TaskTool, Tool: "read_file", Edits: []Edit{{Path: "a.py", Op: OpCreate}}, ProvenanceID: "p"},
			kind:  KindInvalidField,
			field: "edits",
		},
		{
			name:  "non-string path arg",
			plan:  &Plan{TaskType: TaskTool, Tool: "read_file", Args: map[string]any{"path": 3}, ProvenanceID: "p"},
			kind:  KindInvalidField,
			field: "args.path",
		},
		{
			name:  "codemod without files",
			plan:  &Plan{TaskType: TaskCodemod, Instructions: "x", ProvenanceID: "p"},
			kind:  KindMissingField,
			field: "target_paths",
		},
		{
			name:  "modify without symbol",
			plan:  &Plan{TaskType: TaskCodemod, TargetPaths: []string{"a.py"}, Instructions: "x", ProvenanceID: "p"},
			kind:  KindMissingField,
			field: "edits[0].symbol",
		},
		{
			name:  "modify without replacement or instructions",
			plan:  &Plan{TaskType: TaskCodemod, Edits: []Edit{{Path: "a.py", Op: OpModify, Symbol: "run"}}, ProvenanceID: "p"},
			kind:  KindMissingField,
			field: "instructions",
		},
		{
			name:  "unknown op",
			plan:  &Plan{TaskType: TaskCodemod, Edits: []Edit{{Path: "a.py", Op: "delete"}}, ProvenanceID: "p"},
			kind:  KindInvalidField,
			field: "edits[0].op",
		},
		{
			name: "modify and create same file",
			plan: &Plan{TaskType: TaskCodemod, Edits: []Edit{
				{Path: "a.py", Op: OpModify, Symbol: "run", Replacement: "def run():\n    pass\n"},
				{Path: "./a.py", Op: OpCreate, Content: ""},
			}, ProvenanceID: "p"},
			kind:  KindConflictingEdit,
			field: "edits",
		},
		{
			name: "same definition twice",
			plan: &Plan{TaskType: TaskCodemod, Edits: []Edit{
				{Path: "a.py", Op: OpModify, Symbol: "run", Replacement: "def run():\n    pass\n"},
				{Path: "a.py", Op: OpModify, Symbol: "run", Replacement: "def run():\n    return 1\n"},
			}, ProvenanceID: "p"},
			kind:  KindConflictingEdit,
			field: "edits",
		},
		{
			name: "edit outside declared targets",
			plan: &Plan{TaskType: TaskCodemod, TargetPaths: []string{"a.py"}, Edits: []Edit{
				{Path: "b.py", Op: OpCreate, Content: "x = 1\n"},
			}, ProvenanceID: "p"},
			kind:  KindInvalidField,
			field: "edits[0].path",
		},
		{
			name:  "info without content",
			plan:  &Plan{TaskType: TaskInfo, ProvenanceID: "p"},
			kind:  KindMissingField,
			field: "response",
		},
		{
			name:  "forbidden tool",
			plan:  &Plan{TaskType: TaskTool, Tool: "send_email", ProvenanceID: "p"},
			book:  book("forbid tool send_email"),
			kind:  KindRuleViolation,
		},
		{
			name:  "forbidden path on tool arg",
			plan:  &Plan{TaskType: TaskTool, Tool: "read_file", Args: map[string]any{"path": "secrets/key.pem"}, ProvenanceID: "p"},
			book:  book("forbid path secrets/**"),
			kind:  KindRuleViolation,
		},
		{
			name:  "forbidden create",
			plan:  &Plan{TaskType: TaskCodemod, Edits: []Edit{{Path: "new.py", Op: OpCreate, Content: "x = 1\n"}}, ProvenanceID: "p"},
			book:  book("forbid create"),
			kind:  KindRuleViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(testCatalog(), tt.book, "/proj")
			act, err := r.Route(tt.plan)
			require.Nil(t, act)
			ve := requireKind(t, err, tt.kind)
			if tt.field != "" {
				require.Equal(t, tt.field, ve.Field)
			}
			if tt.plan != nil {
				require.Equal(t, tt.plan.ProvenanceID, ve.ProvenanceID)
			}
			if tt.kind == KindRuleViolation {
				require.NotEmpty(t, ve.Rule)
			}
		})
	}
}

func TestRouteCodemodFromTargetPaths(t *testing.T) {
	r := NewRouter(testCatalog(), book("prefer small functions"), "/proj")

	act, err := r.Route(&Plan{
		TaskType:     TaskCodemod,
		TargetPaths:  []string{"/proj/chad/executor.py"},
		Args:         map[string]any{"symbol": "run"},
		Instructions: "add a 2-second timeout",
		ProvenanceID: "req-7",
		TicketID:     "T-1",
	})
	require.NoError(t, err)

	want := &CodemodAction{
		Provenance:   Provenance{ID: "req-7", TicketID: "T-1"},
		Instructions: "add a 2-second timeout",
		Edits:        []Edit{{Path: "chad/executor.py", Op: OpModify, Symbol: "run"}},
	}
	if diff := cmp.Diff(want, act); diff != "" {
		t.Fatalf("routed action mismatch (-want +got):\n%s", diff)
	}
}

func TestRouteKeepsEscapingPathsForTheJail(t *testing.T) {
	r := NewRouter(testCatalog(), nil, "/proj")

	act, err := r.Route(&Plan{
		TaskType:     TaskCodemod,
		Edits:        []Edit{{Path: "/proj/../etc/passwd", Op: OpModify, Symbol: "root", Replacement: "x"}},
		ProvenanceID: "p",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/etc/passwd"}, act.Paths())
}

func TestRouteIsDeterministic(t *testing.T) {
	r := NewRouter(testCatalog(), book("forbid path vendor/**"), "/proj")
	p := &Plan{
		TaskType: TaskCodemod,
		Edits: []Edit{
			{Path: "a.py", Op: OpModify, Symbol: "run", Replacement: "def run():\n    pass\n"},
			{Path: "b.py", Op: OpCreate, Content: "x = 1\n"},
		},
		ProvenanceID: "p",
	}

	first, err := r.Route(p)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Route(p)
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(first, again))
	}
}

func TestDecode(t *testing.T) {
	p, err := Decode([]byte(`{"task_type":"tool","tool":"read_file","args":{"path":"a.txt"},"provenance_id":"req-1"}`))
	require.NoError(t, err)
	require.Equal(t, TaskTool, p.TaskType)
	require.Equal(t, "a.txt", p.Args["path"])

	_, err = Decode([]byte(`{"task_type":"tool","bogus":1}`))
	requireKind(t, err, KindMalformed)

	_, err = Decode([]byte(`{"task_type":"info"} {"task_type":"info"}`))
	requireKind(t, err, KindMalformed)
}

func TestCloneIsDeep(t *testing.T) {
	p := &Plan{Args: map[string]any{"args": []any{"a"}}, TargetPaths: []string{"x"}}
	c := p.Clone()
	c.Args["args"].([]any)[0] = "b"
	c.TargetPaths[0] = "y"
	require.Equal(t, "a", p.Args["args"].([]any)[0])
	require.Equal(t, "x", p.TargetPaths[0])
}
