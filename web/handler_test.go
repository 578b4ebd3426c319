package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekit/tablekit/apierr"
	"github.com/tablekit/tablekit/engine"
	"github.com/tablekit/tablekit/params"
	"github.com/tablekit/tablekit/schema"
)

// recordingExecutor captures which operation ran and with what parameters
type recordingExecutor struct {
	lastOp     string
	lastParams *params.Params
	lastRC     *engine.RequestContext
	err        error
}

func (e *recordingExecutor) result() *engine.Result {
	return &engine.Result{
		Data: []map[string]any{{"id": "r1"}},
		Meta: engine.Meta{Page: 1, PageSize: 25, Total: 1, TotalPages: 1},
	}
}

func (e *recordingExecutor) Query(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.Result, error) {
	e.lastOp, e.lastParams, e.lastRC = "query", p, rc
	if e.err != nil {
		return nil, e.err
	}
	return e.result(), nil
}

func (e *recordingExecutor) QueryGrouped(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.Result, error) {
	e.lastOp, e.lastParams, e.lastRC = "grouped", p, rc
	return e.result(), nil
}

func (e *recordingExecutor) QueryRecursive(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.Result, error) {
	e.lastOp, e.lastParams, e.lastRC = "recursive", p, rc
	return e.result(), nil
}

func (e *recordingExecutor) Count(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.CountResult, error) {
	e.lastOp = "count"
	return &engine.CountResult{Total: 1}, nil
}

func (e *recordingExecutor) Export(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.ExportResult, error) {
	e.lastOp, e.lastParams = "export", p
	return &engine.ExportResult{
		Format:      p.Export,
		Filename:    resource + "." + string(p.Export),
		ContentType: "text/csv; charset=utf-8",
		Payload:     []byte("id\nr1\n"),
	}, nil
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry()

	orders := schema.NewBuilder("orders", "orders").
		Column("id", schema.TypeUUID).
		Column("status", schema.TypeString).
		Subquery("itemCount", "order_items", schema.SubqueryCount, "order_items.order_id = orders.id").
		SubqueryColumn("firstItem", "order_items", schema.SubqueryFirst, "order_items.order_id = orders.id", "name").
		Groupable("status").
		RecursiveOn("parent_id").
		ExportFormats(schema.ExportCSV).
		MustResource()
	require.NoError(t, registry.Register(orders))

	products := schema.NewBuilder("products", "products").
		Column("id", schema.TypeUUID).
		Column("name", schema.TypeString).
		PageSize(25, 100).
		MustResource()
	require.NoError(t, registry.Register(products))

	return registry
}

func newTestHandler(t *testing.T) (*recordingExecutor, http.Handler) {
	t.Helper()
	exec := &recordingExecutor{}
	h := NewHandler(exec, testRegistry(t), nil, nil)
	return exec, h.Routes()
}

func get(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestListResources(t *testing.T) {
	_, router := newTestHandler(t)

	w := get(t, router, "/_resources")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"orders", "products"}, body["resources"])
}

func TestQuerySortableSubqueryAccepted(t *testing.T) {
	exec, router := newTestHandler(t)

	w := get(t, router, "/orders?sort=-itemCount")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))
	assert.Equal(t, "query", exec.lastOp)
	assert.Equal(t, []schema.SortField{{Field: "itemCount", Desc: true}}, exec.lastParams.Sort)
}

// Sorting on a first-kind subquery fails validation before the executor is
// reached, and the response names the offending field.
func TestQueryUnsortableSubqueryRejected(t *testing.T) {
	exec, router := newTestHandler(t)

	w := get(t, router, "/orders?sort=firstItem")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, exec.lastOp)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation_failed", body.Error)
	assert.Equal(t, "firstItem", body.Field)
	assert.Contains(t, body.Message, "firstItem")
}

func TestQueryUnknownResource(t *testing.T) {
	_, router := newTestHandler(t)

	w := get(t, router, "/invoices")
	require.Equal(t, http.StatusNotFound, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Error)
}

func TestQueryPageSizeClamped(t *testing.T) {
	exec, router := newTestHandler(t)

	w := get(t, router, "/products?pageSize=5000")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, exec.lastParams.PageSize)
}

func TestQueryDispatchesGrouped(t *testing.T) {
	exec, router := newTestHandler(t)

	w := get(t, router, "/orders?groupBy=status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "grouped", exec.lastOp)
	assert.Equal(t, []string{"status"}, exec.lastParams.GroupBy)
}

func TestQueryDispatchesRecursive(t *testing.T) {
	exec, router := newTestHandler(t)

	w := get(t, router, "/orders?recursive=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "recursive", exec.lastOp)
}

func TestQueryDispatchesExport(t *testing.T) {
	exec, router := newTestHandler(t)

	w := get(t, router, "/orders?export=csv")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "export", exec.lastOp)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="orders.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "id\nr1\n", w.Body.String())
}

func TestQueryForbiddenMapsTo403(t *testing.T) {
	exec := &recordingExecutor{err: &apierr.ForbiddenError{Resource: "orders"}}
	h := NewHandler(exec, testRegistry(t), nil, nil)
	router := h.Routes()

	w := get(t, router, "/orders")
	require.Equal(t, http.StatusForbidden, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "forbidden", body.Error)
}

// Execution failures never leak storage details to clients
func TestQueryExecutionErrorMapsTo500(t *testing.T) {
	exec := &recordingExecutor{err: &apierr.ExecutionError{Op: "query", Err: assert.AnError}}
	h := NewHandler(exec, testRegistry(t), nil, nil)
	router := h.Routes()

	w := get(t, router, "/orders")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body.Error)
	assert.NotContains(t, body.Message, assert.AnError.Error())
}

func TestMetaEndpoint(t *testing.T) {
	_, router := newTestHandler(t)

	w := get(t, router, "/orders/_meta")
	require.Equal(t, http.StatusOK, w.Code)

	var meta struct {
		Name    string `json:"name"`
		Columns []struct {
			Name     string `json:"name"`
			Sortable bool   `json:"sortable"`
		} `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, "orders", meta.Name)

	sortable := make(map[string]bool, len(meta.Columns))
	for _, c := range meta.Columns {
		sortable[c.Name] = c.Sortable
	}
	assert.True(t, sortable["itemCount"])
	assert.False(t, sortable["firstItem"])
}

func TestMetaUnknownResource(t *testing.T) {
	_, router := newTestHandler(t)
	w := get(t, router, "/invoices/_meta")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryInvalidTokenMapsTo401(t *testing.T) {
	exec := &recordingExecutor{}
	h := NewHandler(exec, testRegistry(t), NewTokenVerifier("secret").Extract, nil)
	router := h.Routes()

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, exec.lastOp)
}

func TestRequestIDMiddleware(t *testing.T) {
	_, router := newTestHandler(t)

	w := get(t, router, "/_resources")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/_resources", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "upstream-id", w.Header().Get("X-Request-ID"))
}
