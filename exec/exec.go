// Package exec invokes entry points inside loaded, finalized code
// segments. Callees follow the System V register convention and must be
// self-contained routines: they get the caller's goroutine stack, so
// anything that grows the stack or expects a host C runtime is out.
package exec
