package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wp4odoo/bridge/internal/observability"
	"golang.org/x/time/rate"
)

// JSONRPC talks to Odoo's /jsonrpc endpoint through execute_kw. One client
// per process; the limiter keeps a misbehaving batch from hammering the ERP.

type JSONRPCConfig struct {
	URL      string
	Database string
	Username string
	Password string

	// Requests per second against the remote; 0 picks a safe default.
	RateLimit float64
	Timeout   time.Duration
}

type JSONRPC struct {
	cfg     JSONRPCConfig
	http    *http.Client
	limiter *rate.Limiter
	prom    *observability.Prom

	mu  sync.Mutex
	uid int64 // 0 until authenticated
}

var _ Client = (*JSONRPC)(nil)

func NewJSONRPC(cfg JSONRPCConfig, prom *observability.Prom) *JSONRPC {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &JSONRPC{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)),
		prom:    prom,
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Debug   string `json:"debug"`
	} `json:"data"`
}

func (c *JSONRPC) call(ctx context.Context, service, method string, args []any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Method: method, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Method: method, Code: resp.StatusCode, Message: "http " + resp.Status}
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &Error{Method: method, Message: "decode response: " + err.Error()}
	}

	if envelope.Error != nil {
		msg := envelope.Error.Message
		if envelope.Error.Data.Message != "" {
			msg = envelope.Error.Data.Message
		}
		return &Error{
			Method:  method,
			Code:    envelope.Error.Code,
			Message: msg,
			Data:    envelope.Error.Data.Name,
		}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return &Error{Method: method, Message: "decode result: " + err.Error()}
		}
	}
	return nil
}

// authenticate lazily resolves and caches the uid for execute_kw calls.
func (c *JSONRPC) authenticate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uid > 0 {
		return c.uid, nil
	}

	var uid int64
	err := c.call(ctx, "common", "authenticate",
		[]any{c.cfg.Database, c.cfg.Username, c.cfg.Password, map[string]any{}}, &uid)
	if err != nil {
		return 0, err
	}
	if uid == 0 {
		return 0, &Error{Method: "authenticate", Message: "access denied: invalid credentials"}
	}

	c.uid = uid
	return uid, nil
}

func (c *JSONRPC) executeKw(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	if kwargs == nil {
		kwargs = map[string]any{}
	}

	fn := func() error {
		return c.call(ctx, "object", "execute_kw",
			[]any{c.cfg.Database, uid, c.cfg.Password, model, method, args, kwargs}, out)
	}
	if c.prom == nil {
		return fn()
	}
	err = c.prom.ObserveRPC(method, fn)
	c.prom.RPCResults.WithLabelValues(method, resultLabel(err)).Inc()
	return err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return Classify(err).String()
}

func (c *JSONRPC) Search(ctx context.Context, model string, domain []any, offset, limit int) ([]int64, error) {
	var ids []int64
	kwargs := map[string]any{}
	if offset > 0 {
		kwargs["offset"] = offset
	}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	if err := c.executeKw(ctx, model, "search", []any{domain}, kwargs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *JSONRPC) SearchCount(ctx context.Context, model string, domain []any) (int, error) {
	var n int
	if err := c.executeKw(ctx, model, "search_count", []any{domain}, nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *JSONRPC) SearchRead(ctx context.Context, model string, domain []any, fields []string, offset, limit int) ([]map[string]any, error) {
	var recs []map[string]any
	kwargs := map[string]any{"offset": offset}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	if err := c.executeKw(ctx, model, "search_read", []any{domain}, kwargs, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *JSONRPC) Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]any, error) {
	var recs []map[string]any
	kwargs := map[string]any{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	if err := c.executeKw(ctx, model, "read", []any{ids}, kwargs, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *JSONRPC) Create(ctx context.Context, model string, values map[string]any) (int64, error) {
	var id int64
	if err := c.executeKw(ctx, model, "create", []any{values}, nil, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateBatch uses the multi-record form of create; the returned ids are in
// positional correspondence with the input.
func (c *JSONRPC) CreateBatch(ctx context.Context, model string, values []map[string]any) ([]int64, error) {
	var ids []int64
	if err := c.executeKw(ctx, model, "create", []any{values}, nil, &ids); err != nil {
		return nil, err
	}
	if len(ids) != len(values) {
		return nil, &Error{Method: "create", Message: fmt.Sprintf("batch create returned %d ids for %d records", len(ids), len(values))}
	}
	return ids, nil
}

func (c *JSONRPC) Write(ctx context.Context, model string, ids []int64, values map[string]any) error {
	var ok bool
	return c.executeKw(ctx, model, "write", []any{ids, values}, nil, &ok)
}

func (c *JSONRPC) Unlink(ctx context.Context, model string, ids []int64) error {
	var ok bool
	return c.executeKw(ctx, model, "unlink", []any{ids}, nil, &ok)
}

func (c *JSONRPC) Execute(ctx context.Context, model, method string, args ...any) (any, error) {
	var out any
	if err := c.executeKw(ctx, model, method, args, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CompanyID reads the authenticated user's company once per process.
func (c *JSONRPC) CompanyID(ctx context.Context) (int64, error) {
	uid, err := c.authenticate(ctx)
	if err != nil {
		return 0, err
	}

	var recs []map[string]any
	if err := c.executeKw(ctx, "res.users", "read",
		[]any{[]int64{uid}}, map[string]any{"fields": []string{"company_id"}}, &recs); err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, &Error{Method: "read", Message: "user record missing"}
	}

	// company_id comes back as [id, display_name]
	if pair, ok := recs[0]["company_id"].([]any); ok && len(pair) > 0 {
		if f, ok := pair[0].(float64); ok {
			return int64(f), nil
		}
	}
	return 0, &Error{Method: "read", Message: "unexpected company_id shape"}
}

// Version checks connectivity without touching a model.
func (c *JSONRPC) Version(ctx context.Context) (string, error) {
	var out struct {
		ServerVersion string `json:"server_version"`
	}
	if err := c.call(ctx, "common", "version", []any{}, &out); err != nil {
		return "", err
	}
	return out.ServerVersion, nil
}
