package loadstone

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/strandos/loadstone/models"
)

// ParseABIFile reads a fixed entry point table: one "name 0xADDR" per
// line, '#' starts a comment.
func ParseABIFile(path string) (*models.ABITable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ABI table")
	}
	return ParseABITable(string(data), path)
}

// ParseABITable parses the table text itself; name labels error lines.
func ParseABITable(text, name string) (*models.ABITable, error) {
	addrs := make(map[string]uint64)
	for n, line := range strings.Split(text, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, errors.Errorf("%s:%d: want \"name address\", got %q", name, n+1, line)
		}
		addr, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", name, n+1)
		}
		addrs[fields[0]] = addr
	}
	return models.NewABITable(addrs), nil
}
