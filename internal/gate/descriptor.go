package gate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Descriptor addresses a dataset on the RPC surface: either an opaque
// command string or a path of elements. Exactly one of the two is set.
type Descriptor struct {
	Command string   `json:"command,omitempty"`
	Path    []string `json:"path,omitempty"`
}

// PathDescriptor builds a path descriptor.
func PathDescriptor(elements ...string) Descriptor {
	return Descriptor{Path: elements}
}

// CommandDescriptor builds a command descriptor.
func CommandDescriptor(command string) Descriptor {
	return Descriptor{Command: command}
}

// Key derives the canonical registry key for a descriptor. The mapping is
// deterministic and injective over valid descriptors: the type tag keeps
// command and path keys disjoint, and percent-escaping each element keeps
// the separator unambiguous.
func (d Descriptor) Key() string {
	if d.Command != "" {
		return "cmd:" + url.PathEscape(d.Command)
	}
	escaped := make([]string, len(d.Path))
	for i, el := range d.Path {
		escaped[i] = url.PathEscape(el)
	}
	return "path:" + strings.Join(escaped, "/")
}

// SchemaTable resolves a descriptor to a (schema, table) registry address.
// Command descriptors use "schema/table"; path descriptors use the first two
// elements. A one-element descriptor names only the schema, leaving the
// table name to come from the table's own metadata.
func (d Descriptor) SchemaTable() (schema, table string, err error) {
	switch {
	case d.Command != "":
		schema, table, _ = strings.Cut(d.Command, "/")
	case len(d.Path) == 1:
		schema = d.Path[0]
	case len(d.Path) >= 2:
		schema, table = d.Path[0], d.Path[1]
	}
	if schema == "" {
		return "", "", fmt.Errorf("gate: descriptor names no schema: %w", types.ErrProtocol)
	}
	return schema, table, nil
}
