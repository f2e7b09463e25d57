package contacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/wp4odoo/bridge/internal/module"
)

// reference module: WordPress users <-> res.partner. It doubles as the
// wiring example for third-party modules and as the fixture the integration
// tests drive.

const (
	ModuleID      = "contacts"
	EntityContact = "contact"
	RemoteModel   = "res.partner"
)

// Store is the local content source the module reads and writes. The host
// adapter (WordPress tables, in tests an in-memory map) implements it.
type Store interface {
	Load(ctx context.Context, localID uint64) (map[string]any, error)
	Save(ctx context.Context, data map[string]any, localID uint64) (uint64, error)
	Delete(ctx context.Context, localID uint64) (bool, error)
}

type Module struct {
	store Store

	// custom field mapping overrides, local field -> remote field
	overrides map[string]string
}

var _ module.Module = (*Module)(nil)
var _ module.DedupDomainer = (*Module)(nil)

func New(store Store, overrides map[string]string) *Module {
	return &Module{store: store, overrides: overrides}
}

func (m *Module) ID() string { return ModuleID }

func (m *Module) Models() map[string]string {
	return map[string]string{EntityContact: RemoteModel}
}

func (m *Module) LoadLocal(ctx context.Context, entityType string, localID uint64) (map[string]any, error) {
	if entityType != EntityContact {
		return nil, fmt.Errorf("contacts: unknown entity type %q", entityType)
	}
	return m.store.Load(ctx, localID)
}

func (m *Module) SaveLocal(ctx context.Context, entityType string, data map[string]any, localID uint64) (uint64, error) {
	if entityType != EntityContact {
		return 0, fmt.Errorf("contacts: unknown entity type %q", entityType)
	}
	return m.store.Save(ctx, data, localID)
}

func (m *Module) DeleteLocal(ctx context.Context, entityType string, localID uint64) (bool, error) {
	if entityType != EntityContact {
		return false, fmt.Errorf("contacts: unknown entity type %q", entityType)
	}
	return m.store.Delete(ctx, localID)
}

// defaultFieldMap is local field -> remote field; overrides win.
var defaultFieldMap = map[string]string{
	"display_name": "name",
	"email":        "email",
	"phone":        "phone",
	"company":      "company_name",
	"city":         "city",
	"country":      "country_code",
}

func (m *Module) MapToRemote(entityType string, local map[string]any) (map[string]any, error) {
	if entityType != EntityContact {
		return nil, fmt.Errorf("contacts: unknown entity type %q", entityType)
	}

	out := make(map[string]any, len(local))
	for localField, remoteField := range m.activeMapping() {
		if v, ok := local[localField]; ok && v != nil {
			out[remoteField] = v
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("contacts: no data to push")
	}
	return out, nil
}

func (m *Module) MapFromRemote(entityType string, remote map[string]any) (map[string]any, error) {
	if entityType != EntityContact {
		return nil, fmt.Errorf("contacts: unknown entity type %q", entityType)
	}

	out := make(map[string]any, len(remote))
	for localField, remoteField := range m.activeMapping() {
		if v, ok := remote[remoteField]; ok && v != nil && v != false {
			out[localField] = v
		}
	}
	return out, nil
}

// DedupDomain finds an orphan partner from a prior failed attempt by email.
func (m *Module) DedupDomain(entityType string, values map[string]any) []any {
	email, _ := values["email"].(string)
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	return []any{[]any{"email", "=", email}}
}

func (m *Module) activeMapping() map[string]string {
	if len(m.overrides) == 0 {
		return defaultFieldMap
	}
	merged := make(map[string]string, len(defaultFieldMap)+len(m.overrides))
	for k, v := range defaultFieldMap {
		merged[k] = v
	}
	for k, v := range m.overrides {
		merged[k] = v
	}
	return merged
}
