//go:build unix

package hostid

import "syscall"

// ProcessGroup returns the process group id of the current process.
func ProcessGroup() int {
	return syscall.Getpgrp()
}
