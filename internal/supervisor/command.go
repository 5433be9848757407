//go:build !windows

package supervisor

import (
	"os/exec"
	"strings"
)

// buildCommand constructs the *exec.Cmd for the configured server command.
// It avoids invoking a shell when not necessary, and it respects an
// explicit shell invocation already present in the command string
// (e.g. "sh -c 'java -jar server.jar'"), avoiding double-wrapping.
func buildCommand(cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	// An explicit shell is honored without adding another layer. The
	// absolute path avoids a PATH dependency when Env is overridden.
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	// Metacharacters need a shell to mean anything.
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c
// <ARG>" at the beginning of cmdStr. It returns (shellPath, afterCArg,
// true) when matched, preserving the substring after "-c " verbatim so
// quoting inside the script survives.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// Strip one wrapping quote pair so the shell sees the actual
			// script rather than a single quoted word.
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
