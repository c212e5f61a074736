// ABOUTME: Applies LSP workspace edits to files on disk for the rename tool.
// ABOUTME: Produces a per-file summary; failures on one file don't abort the rest.

package lsp

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.lsp.dev/protocol"
)

// ApplyWorkspaceEdit writes every text edit in the workspace edit to disk and
// returns a per-file summary. Files are processed independently: an error on
// one file is reported in its summary line and the remaining files still get
// their edits.
func ApplyWorkspaceEdit(edit *protocol.WorkspaceEdit) string {
	perFile := collectEdits(edit)
	if len(perFile) == 0 {
		return "No edits to apply"
	}

	paths := make([]string, 0, len(perFile))
	for path := range perFile {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	lines := make([]string, 0, len(paths))
	for _, path := range paths {
		edits := perFile[path]
		if err := applyFileEdits(path, edits); err != nil {
			lines = append(lines, fmt.Sprintf("%s: error: %v", path, err))
			continue
		}
		noun := "edits"
		if len(edits) == 1 {
			noun = "edit"
		}
		lines = append(lines, fmt.Sprintf("%s: %d %s applied", path, len(edits), noun))
	}
	return strings.Join(lines, "\n")
}

// collectEdits flattens both WorkspaceEdit shapes (Changes and
// DocumentChanges) into a path-keyed map.
func collectEdits(edit *protocol.WorkspaceEdit) map[string][]protocol.TextEdit {
	perFile := make(map[string][]protocol.TextEdit)
	if edit == nil {
		return perFile
	}
	for docURI, edits := range edit.Changes {
		path := docURI.Filename()
		perFile[path] = append(perFile[path], edits...)
	}
	for _, change := range edit.DocumentChanges {
		path := change.TextDocument.URI.Filename()
		perFile[path] = append(perFile[path], change.Edits...)
	}
	return perFile
}

func applyFileEdits(path string, edits []protocol.TextEdit) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	text := string(content)
	starts := lineStarts(text)

	// Apply bottom-up so earlier offsets stay valid.
	ordered := append([]protocol.TextEdit(nil), edits...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i].Range.Start, ordered[j].Range.Start
		if a.Line != b.Line {
			return a.Line > b.Line
		}
		return a.Character > b.Character
	})

	for _, e := range ordered {
		start, err := positionOffset(starts, len(text), e.Range.Start)
		if err != nil {
			return err
		}
		end, err := positionOffset(starts, len(text), e.Range.End)
		if err != nil {
			return err
		}
		if end < start {
			return fmt.Errorf("invalid edit range %d:%d-%d:%d",
				e.Range.Start.Line, e.Range.Start.Character, e.Range.End.Line, e.Range.End.Character)
		}
		text = text[:start] + e.NewText + text[end:]
	}

	info, err := os.Stat(path)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	return os.WriteFile(path, []byte(text), mode)
}

func lineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func positionOffset(starts []int, length int, pos protocol.Position) (int, error) {
	if int(pos.Line) >= len(starts) {
		return 0, fmt.Errorf("edit line %d past end of file", pos.Line+1)
	}
	offset := starts[pos.Line] + int(pos.Character)
	if offset > length {
		return 0, fmt.Errorf("edit position %d:%d past end of file", pos.Line+1, pos.Character)
	}
	return offset, nil
}
