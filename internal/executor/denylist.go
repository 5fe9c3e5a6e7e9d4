package executor

import (
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
)

// DefaultBlockedCommands returns the program names refused outright. A trailing * matches
// any name with that prefix.
func DefaultBlockedCommands() []string {
	return []string{"sudo", "su", "doas", "dd", "mkfs*", "shutdown", "reboot"}
}

// DenyList refuses obviously destructive commands before they reach a shell. It is a
// guard against accidents, not a sandbox.
type DenyList struct {
	exact  map[string]bool
	prefix []string
}

// NewDenyList builds a deny list from program names
func NewDenyList(names []string) *DenyList {
	d := &DenyList{exact: make(map[string]bool)}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if p, ok := strings.CutSuffix(name, "*"); ok {
			d.prefix = append(d.prefix, p)
			continue
		}
		d.exact[name] = true
	}
	return d
}

// Check reports whether command must not run, with the offending segment
func (d *DenyList) Check(command string) (string, bool) {
	for _, argv := range splitPipeline(command) {
		if reason, ok := d.checkArgv(argv); ok {
			return reason, true
		}
	}
	return "", false
}

func (d *DenyList) checkArgv(argv []string) (string, bool) {
	// Skip env assignments and wrappers to find the program
	i := 0
	for i < len(argv) && (strings.Contains(argv[i], "=") && !strings.HasPrefix(argv[i], "-") || argv[i] == "env" || argv[i] == "exec" || argv[i] == "command") {
		i++
	}
	if i >= len(argv) {
		return "", false
	}
	args := argv[i:]
	program := filepath.Base(args[0])
	joined := strings.Join(args, " ")

	if d.exact[program] {
		return joined, true
	}
	for _, p := range d.prefix {
		if strings.HasPrefix(program, p) {
			return joined, true
		}
	}

	switch program {
	case "rm":
		if rmRoot(args[1:]) {
			return joined, true
		}
	case "chmod":
		for _, a := range args[1:] {
			if a == "777" || a == "0777" || a == "a+rwx" {
				return joined, true
			}
		}
	}
	return "", false
}

// rmRoot reports a recursive forced removal of the filesystem root
func rmRoot(args []string) bool {
	recursive, force, root := false, false, false
	for _, a := range args {
		switch {
		case a == "--recursive":
			recursive = true
		case a == "--force":
			force = true
		case strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--"):
			if strings.ContainsAny(a, "rR") {
				recursive = true
			}
			if strings.Contains(a, "f") {
				force = true
			}
		case a == "/" || a == "/*" || a == "~" || a == "~/":
			root = true
		}
	}
	return recursive && force && root
}

// splitPipeline splits a command line on unquoted list and pipe operators and parses each
// segment into argv. Parsing of a segment stops at a redirection.
func splitPipeline(command string) [][]string {
	var out [][]string
	for _, segment := range splitOperators(command) {
		args, err := shellwords.Parse(segment)
		if err != nil {
			// Unbalanced quoting. Fall back to plain whitespace splitting.
			args = strings.Fields(segment)
		}
		if len(args) > 0 {
			out = append(out, args)
		}
	}
	return out
}

func splitOperators(command string) []string {
	var segments []string
	var cur strings.Builder
	var single, double, escaped bool
	for _, r := range command {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && !single:
			escaped = true
		case r == '\'' && !double:
			single = !single
		case r == '"' && !single:
			double = !double
		case !single && !double && (r == ';' || r == '&' || r == '|' || r == '\n' || r == '(' || r == ')'):
			segments = append(segments, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	return append(segments, cur.String())
}
