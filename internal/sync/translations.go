package sync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wp4odoo/bridge/internal/module"
)

// TranslationBuffer accumulates remote->local id pairs discovered during a
// batch of pulls, flushed per module at end of batch. The cap bounds memory;
// overflow forces a mid-batch flush.

const defaultTranslationCap = 500

type TranslationBuffer struct {
	mu  sync.Mutex
	cap int

	// moduleID -> remoteModel -> remoteID -> localID
	data map[string]map[string]map[uint64]uint64
	size int
}

func NewTranslationBuffer(capacity int) *TranslationBuffer {
	if capacity <= 0 {
		capacity = defaultTranslationCap
	}
	return &TranslationBuffer{
		cap:  capacity,
		data: make(map[string]map[string]map[uint64]uint64),
	}
}

// Add records one translation; returns true when the buffer hit its cap and
// the caller should flush now.
func (b *TranslationBuffer) Add(moduleID, remoteModel string, remoteID, localID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	models, ok := b.data[moduleID]
	if !ok {
		models = make(map[string]map[uint64]uint64)
		b.data[moduleID] = models
	}
	ids, ok := models[remoteModel]
	if !ok {
		ids = make(map[uint64]uint64)
		models[remoteModel] = ids
	}
	if _, existed := ids[remoteID]; !existed {
		b.size++
	}
	ids[remoteID] = localID

	return b.size >= b.cap
}

// Drain removes and returns one module's accumulated translations.
func (b *TranslationBuffer) Drain(moduleID string) map[string]map[uint64]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	models, ok := b.data[moduleID]
	if !ok {
		return nil
	}
	delete(b.data, moduleID)
	for _, ids := range models {
		b.size -= len(ids)
	}
	return models
}

// Modules lists module ids with buffered translations.
func (b *TranslationBuffer) Modules() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.data))
	for id := range b.data {
		out = append(out, id)
	}
	return out
}

// Flush hands a module its buffered translations, when it cares.
func (b *TranslationBuffer) Flush(ctx context.Context, mod module.Module, log *slog.Logger) {
	models := b.Drain(mod.ID())
	if len(models) == 0 {
		return
	}

	flusher, ok := mod.(module.TranslationFlusher)
	if !ok {
		return
	}
	if err := flusher.FlushPullTranslations(ctx, models); err != nil {
		log.Warn("translation flush failed", "module", mod.ID(), "error", err)
	}
}
