package odoo

import "context"

// Client is the wire contract to the remote ERP. The sync core only ever
// talks through this interface; tests substitute a fake.
type Client interface {
	Search(ctx context.Context, model string, domain []any, offset, limit int) ([]int64, error)
	SearchCount(ctx context.Context, model string, domain []any) (int, error)
	SearchRead(ctx context.Context, model string, domain []any, fields []string, offset, limit int) ([]map[string]any, error)
	Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]any, error)
	Create(ctx context.Context, model string, values map[string]any) (int64, error)
	CreateBatch(ctx context.Context, model string, values []map[string]any) ([]int64, error)
	Write(ctx context.Context, model string, ids []int64, values map[string]any) error
	Unlink(ctx context.Context, model string, ids []int64) error
	Execute(ctx context.Context, model, method string, args ...any) (any, error)
	CompanyID(ctx context.Context) (int64, error)
}
