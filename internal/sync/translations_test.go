package sync

import (
	"context"
	"testing"
)

func TestTranslationBufferCapTriggersFlush(t *testing.T) {
	b := NewTranslationBuffer(3)

	if b.Add("crm", "res.partner", 1, 11) {
		t.Fatal("below cap, no flush needed")
	}
	if b.Add("crm", "res.partner", 2, 12) {
		t.Fatal("below cap, no flush needed")
	}
	if !b.Add("crm", "res.partner", 3, 13) {
		t.Fatal("cap reached, flush expected")
	}
}

func TestTranslationBufferDedupsRemoteIDs(t *testing.T) {
	b := NewTranslationBuffer(2)
	b.Add("crm", "res.partner", 1, 11)
	if b.Add("crm", "res.partner", 1, 12) {
		t.Fatal("re-adding the same remote id must not grow the buffer")
	}
	got := b.Drain("crm")
	if got["res.partner"][1] != 12 {
		t.Fatalf("latest local id should win, got %d", got["res.partner"][1])
	}
}

func TestTranslationBufferDrainEmpties(t *testing.T) {
	b := NewTranslationBuffer(0)
	b.Add("crm", "res.partner", 1, 11)
	b.Add("wc", "product.product", 2, 22)

	if len(b.Modules()) != 2 {
		t.Fatalf("expected 2 buffered modules, got %v", b.Modules())
	}
	if got := b.Drain("crm"); got["res.partner"][1] != 11 {
		t.Fatalf("drain returned wrong data: %v", got)
	}
	if got := b.Drain("crm"); got != nil {
		t.Fatal("second drain should be empty")
	}
	if len(b.Modules()) != 1 {
		t.Fatalf("expected 1 remaining module, got %v", b.Modules())
	}
}

// flushingModule records translations it receives.
type flushingModule struct {
	*testModule
	got map[string]map[uint64]uint64
}

func (m *flushingModule) FlushPullTranslations(ctx context.Context, translations map[string]map[uint64]uint64) error {
	m.got = translations
	return nil
}

func TestFlushHandsTranslationsToModule(t *testing.T) {
	mod := &flushingModule{testModule: newTestModule()}
	b := NewTranslationBuffer(0)
	b.Add("crm", "res.partner", 9, 55)

	b.Flush(context.Background(), mod, testLogger())

	if mod.got["res.partner"][9] != 55 {
		t.Fatalf("module did not receive translations: %v", mod.got)
	}
}
