package models

import "sort"

// ABITable is the fixed host-provided name→address mapping, supplied to
// the session exactly once at initialization. It is the resolution
// fallback of last resort and is never mutated afterward.
type ABITable struct {
	addrs map[string]uint64
}

func NewABITable(addrs map[string]uint64) *ABITable {
	m := make(map[string]uint64, len(addrs))
	for name, addr := range addrs {
		m[name] = addr
	}
	return &ABITable{addrs: m}
}

func (t *ABITable) Lookup(name string) (uint64, bool) {
	addr, ok := t.addrs[name]
	return addr, ok
}

func (t *ABITable) Len() int {
	return len(t.addrs)
}

// Names returns the table's symbol names, sorted, for operator listings.
func (t *ABITable) Names() []string {
	names := make([]string, 0, len(t.addrs))
	for name := range t.addrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
