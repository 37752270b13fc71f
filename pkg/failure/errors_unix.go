//go:build !windows

package failure

import "syscall"

var connectivityErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ENETUNREACH,
	syscall.EHOSTUNREACH,
}
