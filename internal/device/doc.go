// Package device drives the printers and scales attached to an agent host.
//
// Backend is the narrow contract the agent runtime uses. Two implementations
// exist: Simulated, for demo and test machines, and System, which lists
// printers through the host spooler (lpstat, wmic), prints through lp, and
// reads scales over serial using tarm/serial.
//
// Device failures are values, not errors: a PrintResult with status "error"
// or a Reading with Error set is still returned to the caller.
//
// Serialize wraps any Backend so that jobs on the same printer or scale port
// never interleave. Watcher uses fsnotify on /dev to notice hot-plugged
// adapters.
package device
