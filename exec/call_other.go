//go:build !amd64

package exec

import "github.com/pkg/errors"

// Call is only implemented for amd64 hosts.
func Call(addr uint64, args ...uint64) (uint64, error) {
	return 0, errors.New("native invocation is only supported on amd64")
}
