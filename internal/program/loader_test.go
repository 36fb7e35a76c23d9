package program

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillfalko/interpolation-engine/internal/logsink"
)

const sampleProgram = `{
    // A small program exercising the loader.
    default_state: {
        inserts: {topic: 'cats'},
        order_index: 1,
    },
    save_states: {
    },
    named_tasks: {},
    order: [
        {cmd: 'print', text: 'about {topic}\n'},
        {cmd: 'set', item: 'done', output_name: 'status'},
    ],
}
`

func writeProgram(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.json5")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesAndLabels(t *testing.T) {
	path := writeProgram(t, sampleProgram)
	l := NewLoader("", logsink.Discard())

	prog, state, err := l.Load(path)
	require.NoError(t, err)

	order := prog.Order()
	require.Len(t, order, 2)

	first := order[0].(Task)
	assert.Equal(t, "print", first["cmd"])
	// The injected line lands on the task's own source line.
	assert.Equal(t, "print-11", first["traceback_label"])

	inserts := state["inserts"].(map[string]any)
	assert.Equal(t, "cats", inserts["topic"])
	assert.Equal(t, "", state["output"])
	assert.Equal(t, 1, state["order_index"])
}

func TestLoadCacheHit(t *testing.T) {
	path := writeProgram(t, sampleProgram)
	l := NewLoader("", logsink.Discard())

	first, _, err := l.Load(path)
	require.NoError(t, err)
	second, _, err := l.Load(path)
	require.NoError(t, err)

	// Cache hits hand out copies, never the cached tree itself.
	firstTask := first.Order()[0].(Task)
	secondTask := second.Order()[0].(Task)
	firstTask["text"] = "mutated"
	assert.NotEqual(t, firstTask["text"], secondTask["text"])
}

func TestLoadRejectsInvalidProgram(t *testing.T) {
	path := writeProgram(t, `{
        default_state: {inserts: {}, order_index: 1},
        save_states: {},
        named_tasks: {},
        order: [{cmd: 'print', text: '{never_defined}'}],
    }`)
	l := NewLoader("", logsink.Discard())

	_, _, err := l.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never be defined")
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	l := NewLoader("", logsink.Discard())

	_, _, err := l.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown extension")
}

func TestAddLineNumbers(t *testing.T) {
	in := "{\n  order: [\n    {cmd: 'print', text: 'x'},\n    {\"cmd\": \"set\", item: 1, output_name: 'o'},\n  ],\n}\n"
	out := addLineNumbers(in)
	assert.Contains(t, out, "cmd:'print', line:3,")
	assert.Contains(t, out, "\"cmd\":\"set\", line:4,")
}

func TestSaveSplicesInPlace(t *testing.T) {
	content := `{
    // keep this comment
    default_state: {inserts: {}, order_index: 1},
    save_states: {
    },
    named_tasks: {},
    order: [
        {cmd: 'print', text: 'hi'},
    ],
}
`
	path := writeProgram(t, content)
	l := NewLoader("", logsink.Discard())
	_, _, err := l.Load(path)
	require.NoError(t, err)

	saves := map[string]any{
		"1": map[string]any{"label": "checkpoint", "order_index": 2},
	}
	require.NoError(t, l.Save(path, saves))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(got)
	assert.Contains(t, text, "// keep this comment")
	assert.Contains(t, text, `"label": "checkpoint"`)
	assert.Contains(t, text, `"order_index": 2`)

	// The rewritten document still loads.
	_, _, err = l.Load(path)
	require.NoError(t, err)
}

func TestSaveSkipsUnchangedContent(t *testing.T) {
	content := strings.Replace(sampleProgram, "save_states: {\n    }", "save_states: {}", 1)
	path := writeProgram(t, content)
	l := NewLoader("", logsink.Discard())
	_, _, err := l.Load(path)
	require.NoError(t, err)

	info1, err := os.Stat(path)
	require.NoError(t, err)

	// Splicing an empty map produces different whitespace, so the first
	// save rewrites the file. After the reload, splicing the same value
	// again yields bytes that match the load-time hash, so the second
	// save leaves the file untouched.
	require.NoError(t, l.Save(path, map[string]any{}))
	_, _, err = l.Load(path)
	require.NoError(t, err)
	afterFirst, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, l.Save(path, map[string]any{}))

	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.Size() == 0, info2.Size() == 0)
	assert.True(t, afterFirst.ModTime().Equal(info2.ModTime()), "second save rewrote the file")
}

func TestSpliceKeyPreservesIndentation(t *testing.T) {
	content := "{\n    save_states: {\n        \"1\": {\"label\": \"old\"}\n    },\n    other: 1,\n}\n"
	out, err := spliceKey(content, "save_states", map[string]any{
		"2": map[string]any{"label": "new"},
	}, 4)
	require.NoError(t, err)
	assert.Contains(t, out, "    save_states: {")
	assert.Contains(t, out, "\"2\"")
	assert.NotContains(t, out, "old")
	assert.Contains(t, out, "other: 1")
}
