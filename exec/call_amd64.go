//go:build amd64

package exec

import "github.com/pkg/errors"

func call6(fn uintptr, a0, a1, a2, a3, a4, a5 uint64) uint64

// Call jumps to addr with up to six integer arguments in the System V
// registers and returns the callee's RAX.
func Call(addr uint64, args ...uint64) (uint64, error) {
	if addr == 0 {
		return 0, errors.New("call to address 0")
	}
	if len(args) > 6 {
		return 0, errors.Errorf("%d arguments passed, register convention allows 6", len(args))
	}
	var a [6]uint64
	copy(a[:], args)
	return call6(uintptr(addr), a[0], a[1], a[2], a[3], a[4], a[5]), nil
}
