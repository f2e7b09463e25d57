package odoo

import (
	"errors"
	"fmt"
	"strings"
)

// Kind splits failures into the two retry classes the queue understands.
type Kind int

const (
	// KindTransient may succeed on retry (network, 429/5xx, lock waits).
	KindTransient Kind = iota
	// KindPermanent will not succeed by retrying (validation, access,
	// constraint, unregistered entity).
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Error is a typed failure from the RPC layer.
type Error struct {
	Method  string
	Code    int
	Message string
	Data    string
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("odoo %s: %s (%s)", e.Method, e.Message, e.Data)
	}
	return fmt.Sprintf("odoo %s: %s", e.Method, e.Message)
}

// remote-side failure signatures that retrying cannot fix
var permanentMarkers = []string{
	"access denied",
	"accesserror",
	"validationerror",
	"missing required",
	"constraint",
	"does not exist",
	"invalid field",
}

// Classify maps any error onto the retry taxonomy. The default is Transient:
// when in doubt, retry.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message + " " + rpcErr.Data)
		for _, marker := range permanentMarkers {
			if strings.Contains(msg, marker) {
				return KindPermanent
			}
		}
		// HTTP-mapped codes: 4xx except 408/429 are permanent
		if rpcErr.Code >= 400 && rpcErr.Code < 500 && rpcErr.Code != 408 && rpcErr.Code != 429 {
			return KindPermanent
		}
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return KindPermanent
		}
	}
	return KindTransient
}
