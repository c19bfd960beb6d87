// Package hostid supplies the host and process identity primitives used to
// seed maildir unique key generation.
package hostid

import (
	"os"
	"sync"
)

var (
	hostnameOnce sync.Once
	hostname     string
)

// Hostname returns the host name, falling back to "localhost" when the
// system call fails. The value is cached for the process lifetime.
func Hostname() string {
	hostnameOnce.Do(func() {
		var err error
		hostname, err = os.Hostname()
		if err != nil || hostname == "" {
			hostname = "localhost"
		}
	})
	return hostname
}
