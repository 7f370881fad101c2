//go:build linux

package worker

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// matchesIdentity reads /proc/<pid>/cmdline and checks the command line
// carries the expected worker signature. Returns true when the check cannot
// be performed (cmdline unreadable) so a permission boundary never retires a
// live worker's marker.
func matchesIdentity(pid int, signature string) bool {
	if signature == "" {
		return true
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return true
	}
	cmdline := strings.ReplaceAll(string(bytes.TrimRight(data, "\x00")), "\x00", " ")
	return strings.Contains(cmdline, signature)
}
