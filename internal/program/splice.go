package program

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// spliceKey replaces the object value of a top-level key in a JSON5
// document without disturbing the surrounding text: comments, key order
// and indentation all survive. Only the text between the key's braces is
// rewritten.
func spliceKey(content, key string, newValue any, nIndent int) (string, error) {
	re := regexp.MustCompile(`(['"]?` + regexp.QuoteMeta(key) + `['"]?)\s*:\s*\{`)
	loc := re.FindStringIndex(content)
	if loc == nil {
		return "", fmt.Errorf("key '%s' not found or not an object", key)
	}

	startPos := loc[1] - 1 // the opening brace
	braceLevel := 1
	endPos := -1
	for i := startPos + 1; i < len(content); i++ {
		// Braces inside strings or comments are counted like structural
		// ones, so the match is only correct while such braces are
		// balanced.
		switch content[i] {
		case '{':
			braceLevel++
		case '}':
			braceLevel--
		}
		if braceLevel == 0 {
			endPos = i
			break
		}
	}
	if endPos == -1 {
		return "", fmt.Errorf("could not find matching closing brace for key '%s'", key)
	}

	lineStart := strings.LastIndex(content[:loc[0]], "\n") + 1
	keyIndent := content[lineStart:loc[0]]

	dump, err := json.MarshalIndent(newValue, "", strings.Repeat(" ", nIndent))
	if err != nil {
		return "", fmt.Errorf("serialise %s: %w", key, err)
	}
	dumpLines := strings.Split(string(dump), "\n")
	var inner []string
	if len(dumpLines) > 2 {
		inner = dumpLines[1 : len(dumpLines)-1]
	}
	for i, line := range inner {
		inner[i] = keyIndent + line
	}
	replacement := "\n" + strings.Join(inner, "\n") + "\n" + keyIndent

	return content[:startPos+1] + replacement + content[endPos:], nil
}
