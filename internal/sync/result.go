package sync

import "github.com/wp4odoo/bridge/internal/odoo"

// Result is the orchestrator's verdict on one job. The scheduler turns
// failed results into a retry schedule or a terminal failure.
type Result struct {
	OK      bool
	Message string
	Kind    odoo.Kind

	// EntityID carries the remote id when one is known: on success the
	// synced record, on partial failure the record created before the
	// mapping save failed, so the retry can switch to update.
	EntityID uint64
}

func Success(remoteID uint64) Result {
	return Result{OK: true, EntityID: remoteID}
}

func Transient(msg string) Result {
	return Result{Message: msg, Kind: odoo.KindTransient}
}

func TransientWithEntity(msg string, remoteID uint64) Result {
	return Result{Message: msg, Kind: odoo.KindTransient, EntityID: remoteID}
}

func Permanent(msg string) Result {
	return Result{Message: msg, Kind: odoo.KindPermanent}
}

// FromError classifies an RPC failure into a result.
func FromError(err error) Result {
	return Result{Message: err.Error(), Kind: odoo.Classify(err)}
}
