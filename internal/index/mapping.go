package index

import (
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/your-org/rollcall/internal/models"
)

// MappingEntry resolves an index slot to an identity.
type MappingEntry struct {
	ExternalID   int64               `msgpack:"external_id"`
	DisplayName  string              `msgpack:"display_name"`
	IdentityType models.IdentityType `msgpack:"identity_type"`
}

// Mapping is persisted next to the index. Entries[i] describes slot i and
// BuildID must equal the index's BuildID.
type Mapping struct {
	BuildID string         `msgpack:"build_id"`
	Scope   string         `msgpack:"scope"`
	Kind    Kind           `msgpack:"kind"`
	BuiltAt time.Time      `msgpack:"built_at"`
	Entries []MappingEntry `msgpack:"entries"`
}

func writeMapping(w io.Writer, m *Mapping) error {
	if err := msgpack.NewEncoder(w).Encode(m); err != nil {
		return fmt.Errorf("index: encode mapping: %w", err)
	}
	return nil
}

func readMapping(r io.Reader) (*Mapping, error) {
	var m Mapping
	if err := msgpack.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("index: decode mapping: %w", err)
	}
	return &m, nil
}
