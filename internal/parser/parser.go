package parser

import (
	"strings"
)

// Kind identifies what an action asks the executor to do
type Kind string

const (
	KindShell     Kind = "shell-command"
	KindCode      Kind = "embedded-code"
	KindFileWrite Kind = "file-write"
)

const fence = "```"

// Action is one executable directive extracted from an agent response
type Action struct {
	Kind Kind `json:"kind"`
	// Lang is the fence tag that opened the block
	Lang string `json:"lang,omitempty"`
	// Commands holds the command lines of a shell action, in order
	Commands []string `json:"commands,omitempty"`
	// Payload is the code text of an embedded-code action or the content of a file write
	Payload string `json:"payload,omitempty"`
	// Path is the target of a file write
	Path string `json:"path,omitempty"`
}

var shellTags = map[string]bool{
	"bash":  true,
	"sh":    true,
	"shell": true,
	"zsh":   true,
}

var codeTags = map[string]bool{
	"python":   true,
	"py":       true,
	"starlark": true,
	"star":     true,
}

// Parse extracts actions from free-form agent text. It scans top to bottom with a single
// open block. A recognized opening fence starts a new block, any other fence line closes the
// open block, and text outside blocks is discarded. Blocks left open at the end are dropped.
func Parse(text string) []Action {
	actions := []Action{}

	var open *block
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, fence) {
			if b := openBlock(trimmed); b != nil {
				open = b
				continue
			}
			if open != nil {
				actions = append(actions, open.action())
				open = nil
			}
			continue
		}

		if open != nil {
			open.add(line)
		}
	}

	return actions
}

type block struct {
	kind  Kind
	lang  string
	path  string
	lines []string
}

// openBlock returns a new block when the fence line carries a recognized tag
func openBlock(fenceLine string) *block {
	info := strings.TrimSpace(strings.TrimPrefix(fenceLine, fence))
	if info == "" {
		return nil
	}

	if path, ok := strings.CutPrefix(info, "file:"); ok {
		path = strings.TrimSpace(path)
		if path == "" {
			return nil
		}
		return &block{kind: KindFileWrite, lang: "file", path: path}
	}

	tag := strings.ToLower(strings.Fields(info)[0])
	switch {
	case shellTags[tag]:
		return &block{kind: KindShell, lang: tag}
	case codeTags[tag]:
		return &block{kind: KindCode, lang: tag}
	}
	return nil
}

func (b *block) add(line string) {
	if b.kind == KindShell {
		cmd := strings.TrimSpace(line)
		if cmd == "" || strings.HasPrefix(cmd, "#") {
			return
		}
		b.lines = append(b.lines, cmd)
		return
	}
	b.lines = append(b.lines, line)
}

func (b *block) action() Action {
	a := Action{Kind: b.kind, Lang: b.lang, Path: b.path}
	switch b.kind {
	case KindShell:
		a.Commands = append([]string{}, b.lines...)
	default:
		a.Payload = strings.Join(b.lines, "\n")
	}
	return a
}

