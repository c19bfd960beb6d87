//go:build !unix

package hostid

import "os"

// ProcessGroup falls back to the process id on platforms without process
// groups.
func ProcessGroup() int {
	return os.Getpid()
}
