//go:build !linux

package mem

import "github.com/pkg/errors"

type HostMap struct{}

var errNoHost = errors.New("host memory mapping is only supported on linux")

func NewHostMap() (*HostMap, error)                 { return nil, errNoHost }
func (h *HostMap) PageSize() uint64                 { return 0 }
func (h *HostMap) Free() uint64                     { return 0 }
func (h *HostMap) Map(_, _ uint64) (*Region, error) { return nil, errNoHost }
func (h *HostMap) Protect(_ *Region, _ int) error   { return errNoHost }
func (h *HostMap) Unmap(_ *Region) error            { return errNoHost }
