package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

const systemPreamble = `You are Claude-Tasker, an autonomous task execution agent.

CRITICAL INSTRUCTIONS:
1. You are running in autonomous mode - no human is monitoring
2. Execute the given task completely and thoroughly
3. Use appropriate tools and commands as needed
4. Provide detailed feedback on what you accomplished
5. If you encounter issues, try alternative approaches
6. Always complete the task or provide clear failure reasons

AVAILABLE CAPABILITIES:
- File operations (read, write, edit, create, delete)
- Shell commands and system operations
- Code execution and debugging
- Package management (npm, pip, etc.)
- Version control operations (git)
- Network requests and API calls

OUTPUT FORMAT:
Anything you want run must be placed in a fenced block. Text outside blocks is treated as
narrative and is not executed. Blocks run in the order they appear, one at a time.

Shell commands, one per line, each run as its own process. Lines starting with # are skipped:
` + "```bash" + `
command to execute
` + "```" + `

Embedded code. This runs in a restricted Python-like dialect (Starlark) with print, json, math
and time available. It has no file, process or network access:
` + "```python" + `
print("code to run")
` + "```" + `

File contents, written to the given path:
` + "```file:/path/to/file" + `
content to write to file
` + "```" + `

You have full autonomous control. Execute the task completely.`

// SystemPreamble returns the fixed operating-mode instructions sent with every task
func SystemPreamble() string {
	return systemPreamble
}

// TaskPrompt builds the task-specific part of the prompt
func TaskPrompt(task *db.Task) string {
	var b strings.Builder
	b.WriteString("AUTONOMOUS TASK EXECUTION\n\n")
	fmt.Fprintf(&b, "Task: %s\n", task.Description)
	fmt.Fprintf(&b, "Priority: %d/%d\n", task.Priority, db.MaxPriority)
	fmt.Fprintf(&b, "Tags: %s\n", strings.Join(task.Tags, ", "))
	fmt.Fprintf(&b, "Created: %s\n", task.CreatedAt.UTC().Format(time.RFC3339))
	if task.RetryCount > 0 {
		fmt.Fprintf(&b, "Attempt: %d (previous attempts failed)\n", task.Attempt())
	}
	b.WriteString(`
EXECUTE THIS TASK NOW:
1. Analyze what needs to be done
2. Plan your approach
3. Execute the necessary steps
4. Verify the results
5. Report completion status

Begin execution immediately.`)
	return b.String()
}
