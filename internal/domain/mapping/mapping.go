package mapping

import (
	"errors"
	"time"
)

var ErrMappingNotFound = errors.New("mapping not found")

// a Mapping is the persistent identity link between a local entity and the
// remote record it was synced to, plus the hash of the last synced payload.
// unique in both directions: (module, entity_type, local_id) and
// (module, entity_type, remote_id).

type Mapping struct {
	Module       string     `json:"module"`
	EntityType   string     `json:"entityType"`
	LocalID      uint64     `json:"localId"`
	RemoteID     uint64     `json:"remoteId"`
	RemoteModel  string     `json:"remoteModel"`
	SyncHash     string     `json:"syncHash"`
	LastPolledAt *time.Time `json:"lastPolledAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}
