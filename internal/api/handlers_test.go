package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/bookcrawl/internal/api"
	"github.com/jonesrussell/bookcrawl/internal/database"
	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/session"
	"github.com/jonesrussell/bookcrawl/internal/sites"
)

// errMockNoData is returned by mock methods not exercised by a test.
var errMockNoData = errors.New("mock: no data")

// mockStore implements database.TaskStore for handler tests.
type mockStore struct {
	createFunc  func(ctx context.Context, task *domain.Task) error
	getByIDFunc func(ctx context.Context, id string) (*domain.Task, error)
	cancelFunc  func(ctx context.Context, id string, endedAt time.Time) error
	listFunc    func(ctx context.Context, status string, limit, offset int) ([]*domain.Task, error)
	retryFunc   func(ctx context.Context) (int64, error)
	statsFunc   func(ctx context.Context) ([]database.TaskStat, error)
}

func (m *mockStore) Create(ctx context.Context, task *domain.Task) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, task)
	}
	return nil
}

func (m *mockStore) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, errMockNoData
}

func (m *mockStore) FetchPending(context.Context, int) ([]*domain.Task, error) {
	return nil, errMockNoData
}

func (m *mockStore) MarkRunning(context.Context, string, time.Time) error { return nil }

func (m *mockStore) Finish(context.Context, string, domain.TaskStatus, string, time.Time) (bool, error) {
	return false, nil
}

func (m *mockStore) Cancel(ctx context.Context, id string, endedAt time.Time) error {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, id, endedAt)
	}
	return nil
}

func (m *mockStore) RetryFailed(ctx context.Context) (int64, error) {
	if m.retryFunc != nil {
		return m.retryFunc(ctx)
	}
	return 0, nil
}

func (m *mockStore) List(ctx context.Context, status string, limit, offset int) ([]*domain.Task, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, status, limit, offset)
	}
	return []*domain.Task{}, nil
}

func (m *mockStore) StatsBySite(ctx context.Context) ([]database.TaskStat, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx)
	}
	return []database.TaskStat{}, nil
}

func (m *mockStore) CleanupOld(context.Context, time.Time) (int64, error) { return 0, nil }

// mockPrices implements api.PriceReader.
type mockPrices struct {
	historyFunc func(ctx context.Context, isbn, site string, limit int) ([]domain.PriceQuote, error)
}

func (m *mockPrices) History(ctx context.Context, isbn, site string, limit int) ([]domain.PriceQuote, error) {
	if m.historyFunc != nil {
		return m.historyFunc(ctx, isbn, site, limit)
	}
	return nil, nil
}

// mockSales implements api.SalesReader.
type mockSales struct {
	listFunc func(ctx context.Context, isbn string, limit int) ([]domain.SaleRecord, error)
}

func (m *mockSales) ListByISBN(ctx context.Context, isbn string, limit int) ([]domain.SaleRecord, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, isbn, limit)
	}
	return []domain.SaleRecord{}, nil
}

// mockListings implements api.ListingsReader.
type mockListings struct {
	listFunc func(ctx context.Context, shopID string, limit, offset int) ([]domain.BookListing, error)
}

func (m *mockListings) ListByShop(ctx context.Context, shopID string, limit, offset int) ([]domain.BookListing, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, shopID, limit, offset)
	}
	return []domain.BookListing{}, nil
}

// mockPool implements api.PoolControl.
type mockPool struct {
	status     domain.PoolStatus
	resizeFunc func(int) error
	clearFunc  func(sessionID, site string) error
}

func (m *mockPool) Status() domain.PoolStatus { return m.status }

func (m *mockPool) Resize(newSize int) error {
	if m.resizeFunc != nil {
		return m.resizeFunc(newSize)
	}
	return nil
}

func (m *mockPool) ClearLoginRequired(sessionID, site string) error {
	if m.clearFunc != nil {
		return m.clearFunc(sessionID, site)
	}
	return nil
}

func newTestRouter(store database.TaskStore, pool api.PoolControl) *gin.Engine {
	return newTestRouterWithReaders(store, pool, &mockPrices{}, &mockSales{}, &mockListings{})
}

func newTestRouterWithPrices(store database.TaskStore, pool api.PoolControl, prices api.PriceReader) *gin.Engine {
	return newTestRouterWithReaders(store, pool, prices, &mockSales{}, &mockListings{})
}

func newTestRouterWithReaders(
	store database.TaskStore,
	pool api.PoolControl,
	prices api.PriceReader,
	sales api.SalesReader,
	listings api.ListingsReader,
) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	registry := sites.NewRegistry(sites.NewKongfuzi(log), sites.NewDuozhuayu(log))
	tasks := api.NewTasksHandler(store, registry, log)
	return api.SetupRouter(log, tasks,
		api.NewPoolHandler(pool, log),
		api.NewPricesHandler(prices, log),
		api.NewSalesHandler(sales, listings, log),
		false)
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	t.Run("creates a valid task", func(t *testing.T) {
		var created *domain.Task
		store := &mockStore{createFunc: func(_ context.Context, task *domain.Task) error {
			created = task
			return nil
		}}
		router := newTestRouter(store, &mockPool{})

		rec := doJSON(router, http.MethodPost, "/api/v1/tasks", map[string]any{
			"type":        "book_sales_crawl",
			"target_site": "kongfuzi",
			"params":      map[string]any{"isbn": "9787020002207"},
			"priority":    5,
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, created)
		assert.Equal(t, domain.TaskTypeBookSales, created.Type)
		assert.Equal(t, domain.TaskStatusPending, created.Status)
		assert.Equal(t, 5, created.Priority)
		assert.NotEmpty(t, created.ID)
	})

	t.Run("rejects unknown site", func(t *testing.T) {
		router := newTestRouter(&mockStore{}, &mockPool{})

		rec := doJSON(router, http.MethodPost, "/api/v1/tasks", map[string]any{
			"type":        "book_sales_crawl",
			"target_site": "abebooks",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "no executor registered")
	})

	t.Run("rejects type the site cannot run", func(t *testing.T) {
		router := newTestRouter(&mockStore{}, &mockPool{})

		rec := doJSON(router, http.MethodPost, "/api/v1/tasks", map[string]any{
			"type":        "shop_books_crawl",
			"target_site": "duozhuayu",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "does not support")
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		router := newTestRouter(&mockStore{}, &mockPool{})

		rec := doJSON(router, http.MethodPost, "/api/v1/tasks", map[string]any{
			"type": "book_sales_crawl",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetTask(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store := &mockStore{getByIDFunc: func(_ context.Context, id string) (*domain.Task, error) {
			return &domain.Task{ID: id, Status: domain.TaskStatusCompleted}, nil
		}}
		router := newTestRouter(store, &mockPool{})

		rec := doJSON(router, http.MethodGet, "/api/v1/tasks/abc", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"completed"`)
	})

	t.Run("not found", func(t *testing.T) {
		store := &mockStore{getByIDFunc: func(_ context.Context, id string) (*domain.Task, error) {
			return nil, database.ErrTaskNotFound
		}}
		router := newTestRouter(store, &mockPool{})

		rec := doJSON(router, http.MethodGet, "/api/v1/tasks/abc", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCancelTask(t *testing.T) {
	t.Run("pending task cancelled", func(t *testing.T) {
		router := newTestRouter(&mockStore{}, &mockPool{})

		rec := doJSON(router, http.MethodPost, "/api/v1/tasks/abc/cancel", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("running task conflicts", func(t *testing.T) {
		store := &mockStore{cancelFunc: func(_ context.Context, _ string, _ time.Time) error {
			return database.ErrTaskNotPending
		}}
		router := newTestRouter(store, &mockPool{})

		rec := doJSON(router, http.MethodPost, "/api/v1/tasks/abc/cancel", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestRetryFailed(t *testing.T) {
	store := &mockStore{retryFunc: func(_ context.Context) (int64, error) { return 4, nil }}
	router := newTestRouter(store, &mockPool{})

	rec := doJSON(router, http.MethodPost, "/api/v1/tasks/retry-failed", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retried":4`)
}

func TestTaskStats(t *testing.T) {
	store := &mockStore{statsFunc: func(context.Context) ([]database.TaskStat, error) {
		return []database.TaskStat{
			{TargetSite: "duozhuayu", Status: "completed", Count: 7},
			{TargetSite: "kongfuzi", Status: "pending", Count: 3},
		}, nil
	}}
	router := newTestRouter(store, &mockPool{})

	rec := doJSON(router, http.MethodGet, "/api/v1/tasks/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"target_site":"kongfuzi"`)
	assert.Contains(t, rec.Body.String(), `"count":7`)
}

func TestGetPrice(t *testing.T) {
	t.Run("with previous quote reports change", func(t *testing.T) {
		now := time.Now()
		prices := &mockPrices{historyFunc: func(_ context.Context, isbn, site string, limit int) ([]domain.PriceQuote, error) {
			assert.Equal(t, "9787020002207", isbn)
			assert.Equal(t, "duozhuayu", site)
			assert.Equal(t, 2, limit)
			return []domain.PriceQuote{
				{ISBN: isbn, Site: site, Price: 18.50, FetchedAt: now},
				{ISBN: isbn, Site: site, Price: 21.00, FetchedAt: now.Add(-24 * time.Hour)},
			}, nil
		}}
		router := newTestRouterWithPrices(&mockStore{}, &mockPool{}, prices)

		rec := doJSON(router, http.MethodGet, "/api/v1/prices/9787020002207", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Latest   domain.PriceQuote `json:"latest"`
			Previous domain.PriceQuote `json:"previous"`
			Change   float64           `json:"change"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 18.50, resp.Latest.Price)
		assert.Equal(t, 21.00, resp.Previous.Price)
		assert.InDelta(t, -2.50, resp.Change, 0.001)
	})

	t.Run("single quote omits change", func(t *testing.T) {
		prices := &mockPrices{historyFunc: func(_ context.Context, isbn, site string, _ int) ([]domain.PriceQuote, error) {
			return []domain.PriceQuote{{ISBN: isbn, Site: site, Price: 12.00}}, nil
		}}
		router := newTestRouterWithPrices(&mockStore{}, &mockPool{}, prices)

		rec := doJSON(router, http.MethodGet, "/api/v1/prices/9787020002207?site=kongfuzi", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), `"change"`)
	})

	t.Run("no quotes", func(t *testing.T) {
		router := newTestRouterWithPrices(&mockStore{}, &mockPool{}, &mockPrices{})

		rec := doJSON(router, http.MethodGet, "/api/v1/prices/9780000000000", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetSales(t *testing.T) {
	t.Run("records with derived stats", func(t *testing.T) {
		now := time.Now()
		sales := &mockSales{listFunc: func(_ context.Context, isbn string, limit int) ([]domain.SaleRecord, error) {
			assert.Equal(t, "9787020002207", isbn)
			assert.Equal(t, 200, limit)
			return []domain.SaleRecord{
				{ISBN: isbn, Site: "kongfuzi", Price: 25.00, SoldAt: now.Add(-2 * time.Hour)},
				{ISBN: isbn, Site: "kongfuzi", Price: 19.00, SoldAt: now.Add(-5 * 24 * time.Hour)},
				{ISBN: isbn, Site: "kongfuzi", Price: 22.00, SoldAt: now.Add(-20 * 24 * time.Hour)},
			}, nil
		}}
		router := newTestRouterWithReaders(&mockStore{}, &mockPool{}, &mockPrices{}, sales, &mockListings{})

		rec := doJSON(router, http.MethodGet, "/api/v1/sales/9787020002207", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Records []domain.SaleRecord `json:"records"`
			Stats   domain.SalesStats   `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Records, 3)
		assert.Equal(t, 1, resp.Stats.Sales1Day)
		assert.Equal(t, 2, resp.Stats.Sales7Days)
		assert.Equal(t, 3, resp.Stats.Sales30Days)
		assert.Equal(t, 3, resp.Stats.TotalRecords)
		assert.InDelta(t, 22.00, resp.Stats.AveragePrice, 0.001)
	})

	t.Run("no records yields empty stats", func(t *testing.T) {
		router := newTestRouterWithReaders(&mockStore{}, &mockPool{}, &mockPrices{}, &mockSales{}, &mockListings{})

		rec := doJSON(router, http.MethodGet, "/api/v1/sales/9780000000000", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Records []domain.SaleRecord `json:"records"`
			Stats   domain.SalesStats   `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Records)
		assert.Equal(t, 0, resp.Stats.TotalRecords)
	})

	t.Run("store failure", func(t *testing.T) {
		sales := &mockSales{listFunc: func(context.Context, string, int) ([]domain.SaleRecord, error) {
			return nil, errors.New("db down")
		}}
		router := newTestRouterWithReaders(&mockStore{}, &mockPool{}, &mockPrices{}, sales, &mockListings{})

		rec := doJSON(router, http.MethodGet, "/api/v1/sales/9787020002207", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetShopBooks(t *testing.T) {
	t.Run("lists shop inventory", func(t *testing.T) {
		listings := &mockListings{listFunc: func(_ context.Context, shopID string, limit, offset int) ([]domain.BookListing, error) {
			assert.Equal(t, "12345", shopID)
			assert.Equal(t, 10, limit)
			assert.Equal(t, 0, offset)
			return []domain.BookListing{
				{ISBN: "9787020002207", ShopID: shopID, Title: "红楼梦", Price: 35.00},
				{ISBN: "9787536692930", ShopID: shopID, Title: "三体", Price: 28.50},
			}, nil
		}}
		router := newTestRouterWithReaders(&mockStore{}, &mockPool{}, &mockPrices{}, &mockSales{}, listings)

		rec := doJSON(router, http.MethodGet, "/api/v1/shops/12345/books?limit=10", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":2`)
		assert.Contains(t, rec.Body.String(), `"shop_id":"12345"`)
	})

	t.Run("store failure", func(t *testing.T) {
		listings := &mockListings{listFunc: func(context.Context, string, int, int) ([]domain.BookListing, error) {
			return nil, errors.New("db down")
		}}
		router := newTestRouterWithReaders(&mockStore{}, &mockPool{}, &mockPrices{}, &mockSales{}, listings)

		rec := doJSON(router, http.MethodGet, "/api/v1/shops/12345/books", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestPoolStatus(t *testing.T) {
	pool := &mockPool{status: domain.PoolStatus{SizeTotal: 2, SizeIdle: 1, SizeBusy: 1}}
	router := newTestRouter(&mockStore{}, pool)

	rec := doJSON(router, http.MethodGet, "/api/v1/pool/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var status domain.PoolStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.SizeTotal)
	assert.Equal(t, 1, status.SizeBusy)
}

func TestPoolResize(t *testing.T) {
	t.Run("valid resize", func(t *testing.T) {
		var got int
		pool := &mockPool{resizeFunc: func(n int) error {
			got = n
			return nil
		}}
		router := newTestRouter(&mockStore{}, pool)

		rec := doJSON(router, http.MethodPost, "/api/v1/pool/resize", map[string]any{"size": 3})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 3, got)
	})

	t.Run("rejected by pool", func(t *testing.T) {
		pool := &mockPool{resizeFunc: func(int) error { return errors.New("size out of range") }}
		router := newTestRouter(&mockStore{}, pool)

		rec := doJSON(router, http.MethodPost, "/api/v1/pool/resize", map[string]any{"size": 99})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestClearLogin(t *testing.T) {
	t.Run("cleared", func(t *testing.T) {
		var gotSession, gotSite string
		pool := &mockPool{clearFunc: func(sessionID, site string) error {
			gotSession, gotSite = sessionID, site
			return nil
		}}
		router := newTestRouter(&mockStore{}, pool)

		rec := doJSON(router, http.MethodPost, "/api/v1/pool/sessions/s1/clear-login",
			map[string]any{"site": "kongfuzi"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "s1", gotSession)
		assert.Equal(t, "kongfuzi", gotSite)
	})

	t.Run("unknown session", func(t *testing.T) {
		pool := &mockPool{clearFunc: func(string, string) error { return session.ErrUnknownSession }}
		router := newTestRouter(&mockStore{}, pool)

		rec := doJSON(router, http.MethodPost, "/api/v1/pool/sessions/s1/clear-login",
			map[string]any{"site": "kongfuzi"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("not login blocked", func(t *testing.T) {
		pool := &mockPool{clearFunc: func(string, string) error { return session.ErrNotLoginRequired }}
		router := newTestRouter(&mockStore{}, pool)

		rec := doJSON(router, http.MethodPost, "/api/v1/pool/sessions/s1/clear-login",
			map[string]any{"site": "kongfuzi"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
