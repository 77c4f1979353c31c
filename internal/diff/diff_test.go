package diff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompute_SimpleAddition(t *testing.T) {
	fd := NewEngine().Compute("a.txt", "line1\nline2\nline3\n", "line1\nline2\nline2.5\nline3\n", false)

	require.Len(t, fd.Hunks, 1)
	added, removed := fd.Stats()
	require.Equal(t, 1, added)
	require.Equal(t, 0, removed)

	h := fd.Hunks[0]
	require.Equal(t, 1, h.OldStart)
	require.Equal(t, 3, h.OldCount)
	require.Equal(t, 1, h.NewStart)
	require.Equal(t, 4, h.NewCount)
}

func TestCompute_SimpleDeletion(t *testing.T) {
	fd := NewEngine().Compute("a.txt", "line1\nline2\nline3\nline4\n", "line1\nline2\nline4\n", false)

	var removedLines []string
	for _, h := range fd.Hunks {
		for _, l := range h.Lines {
			if l.Type == LineRemoved {
				removedLines = append(removedLines, l.Content)
			}
		}
	}
	require.Equal(t, []string{"line3"}, removedLines)
}

func TestCompute_NoChange(t *testing.T) {
	fd := NewEngine().Compute("a.txt", "same\n", "same\n", false)
	require.True(t, fd.Empty())
	require.Equal(t, "", fd.String())
}

func TestCompute_SeparateHunks(t *testing.T) {
	var before, after []string
	for i := 0; i < 30; i++ {
		before = append(before, fmt.Sprintf("line%d", i))
		after = append(after, fmt.Sprintf("line%d", i))
	}
	after[2] = "changed-top"
	after[27] = "changed-bottom"

	fd := NewEngine().Compute("a.txt", strings.Join(before, "\n")+"\n", strings.Join(after, "\n")+"\n", false)
	require.Len(t, fd.Hunks, 2)
	require.Equal(t, 25, fd.Hunks[1].OldStart)
}

func TestUnified(t *testing.T) {
	out := Unified("chad/executor.py",
		[]byte("def run(cmd):\n    return subprocess.run(cmd)\n"),
		[]byte("def run(cmd):\n    return subprocess.run(cmd, timeout=2)\n"),
		false)

	want := "--- a/chad/executor.py\n" +
		"+++ b/chad/executor.py\n" +
		"@@ -1,2 +1,2 @@\n" +
		" def run(cmd):\n" +
		"-    return subprocess.run(cmd)\n" +
		"+    return subprocess.run(cmd, timeout=2)\n"
	require.Equal(t, want, out)
}

func TestUnified_NewFile(t *testing.T) {
	out := Unified("notes/a.md", nil, []byte("# A\n"), true)
	require.Equal(t, "--- /dev/null\n+++ b/notes/a.md\n@@ -0,0 +1 @@\n+# A\n", out)
}
