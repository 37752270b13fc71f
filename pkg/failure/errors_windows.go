//go:build windows

package failure

import "syscall"

// Winsock reports these instead of the POSIX values, which are placeholders on windows
var connectivityErrnos = []syscall.Errno{
	syscall.WSAECONNREFUSED,
	syscall.Errno(10051), // WSAENETUNREACH
	syscall.Errno(10065), // WSAEHOSTUNREACH
	syscall.ECONNREFUSED,
	syscall.ENETUNREACH,
	syscall.EHOSTUNREACH,
}
