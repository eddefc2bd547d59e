package main

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventture/credit-engine/internal/engine"
	"github.com/ventture/credit-engine/internal/ratelimit"
	"github.com/ventture/credit-engine/internal/security"
)

const testModelArtifact = `{
	"family": "linear",
	"schema_version": "v-test",
	"weights": [0.3, -0.4, 0.5, 0.1],
	"bias": 0
}`

const testSchemaArtifact = `{
	"version": "v-test",
	"features": [
		{"name": "income", "center": 4000, "scale": 2000},
		{"name": "credit_amount", "center": 25000, "scale": 10000},
		{"name": "guarantee_value", "center": 15000, "scale": 5000},
		{"name": "age", "center": 35, "scale": 10}
	]
}`

// newTestApp builds a fully wired app against temp-dir artifacts and an
// on-disk SQLite database, with no Redis and no advisor API key so every
// external dependency runs in its local fallback mode.
func newTestApp(t *testing.T, opts ...func(*appConfig)) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.json")
	schemaPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(modelPath, []byte(testModelArtifact), 0o644))
	require.NoError(t, os.WriteFile(schemaPath, []byte(testSchemaArtifact), 0o644))

	cfg := appConfig{
		ModelPath:      modelPath,
		SchemaPath:     schemaPath,
		DataDir:        dir,
		Threshold:      engine.DefaultThreshold,
		ExplainTimeout: 2 * time.Second,
		CacheTTL:       time.Minute,
		RateLimit: ratelimit.Config{
			IPLimitPerMin:       100000,
			EvaluateLimitPerMin: 100000,
			BurstMultiplier:     2,
		},
		Security: security.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	a, err := newApp(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func performRequest(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	return performRequest(r, http.MethodPost, path, body, nil)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "response was not JSON: %s", w.Body.String())
	return body
}

func applicationBody(income, age, credit, guarantee float64, liquidity string) string {
	return fmt.Sprintf(`{"income":%v,"age":%v,"credit_amount":%v,"guarantee_value":%v,"guarantee_liquidity":%q}`,
		income, age, credit, guarantee, liquidity)
}

func sigmoidOf(logit float64) float64 {
	return 1 / (1 + math.Exp(-logit))
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	w := performRequest(r, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "linear", body["model_family"])
	assert.Equal(t, "v-test", body["schema_version"])
	assert.Equal(t, float64(4), body["features"])
}

func TestEvaluateEndpoint(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	tests := []struct {
		name     string
		body     string
		validate func(t *testing.T, body map[string]interface{})
	}{
		{
			name: "approved application",
			// normalized {0.5, -0.5, 0, 0} against the test weights
			body: applicationBody(5000, 35, 20000, 15000, "medium"),
			validate: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "approved", body["decision"])
				assert.InDelta(t, sigmoidOf(0.35), body["probability"].(float64), 1e-9)
				assert.Equal(t, 0.5, body["threshold"])
				assert.Equal(t, "v-test", body["schema_version"])

				contribs := body["contributions"].([]interface{})
				require.Len(t, contribs, 4)
				top := contribs[0].(map[string]interface{})
				assert.Equal(t, "credit_amount", top["feature"])
				assert.InDelta(t, 0.2, top["contribution"].(float64), 1e-9)
				assert.Equal(t, float64(1), top["rank"])

				assert.NotEmpty(t, body["message"])
				assert.NotEmpty(t, body["evaluated_at"])
			},
		},
		{
			name: "denied application",
			body: applicationBody(2000, 35, 35000, 15000, "low"),
			validate: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "denied", body["decision"])
				assert.InDelta(t, sigmoidOf(-0.7), body["probability"].(float64), 1e-9)

				contribs := body["contributions"].([]interface{})
				require.Len(t, contribs, 4)
				top := contribs[0].(map[string]interface{})
				assert.Equal(t, "credit_amount", top["feature"])
				assert.InDelta(t, -0.4, top["contribution"].(float64), 1e-9)

				assert.NotEmpty(t, body["message"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(r, "/evaluate", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			tt.validate(t, decodeBody(t, w))
		})
	}
}

func TestEvaluateEndpointValidation(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	tests := []struct {
		name           string
		body           string
		contentType    string
		expectedStatus int
	}{
		{
			name:           "malformed JSON",
			body:           `{"income": 5000,`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing liquidity",
			body:           `{"income":5000,"age":35,"credit_amount":20000,"guarantee_value":15000}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown liquidity class",
			body:           applicationBody(5000, 35, 20000, 15000, "solid"),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "age out of range",
			body:           applicationBody(5000, 150, 20000, 15000, "medium"),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "negative income",
			body:           applicationBody(-100, 35, 20000, 15000, "medium"),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unsupported content type",
			body:           applicationBody(5000, 35, 20000, 15000, "medium"),
			contentType:    "text/plain",
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "oversized payload",
			body:           `{"income":5000,"pad":"` + strings.Repeat("x", 9000) + `"}`,
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.contentType != "" {
				headers["Content-Type"] = tt.contentType
			}
			w := performRequest(r, http.MethodPost, "/evaluate", tt.body, headers)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}

func TestEvaluateRecordsHistory(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	w := postJSON(r, "/evaluate", applicationBody(5200, 41, 18000, 12000, "high"))
	require.Equal(t, http.StatusOK, w.Code)
	id, ok := decodeBody(t, w)["id"].(string)
	require.True(t, ok, "response carries no evaluation id")
	require.NotEmpty(t, id)

	w = performRequest(r, http.MethodGet, "/history", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listing := decodeBody(t, w)
	assert.GreaterOrEqual(t, listing["count"].(float64), float64(1))

	w = performRequest(r, http.MethodGet, "/history/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decodeBody(t, w)
	assert.Equal(t, id, rec["id"])
	assert.Equal(t, "approved", rec["label"])
	assert.Equal(t, "v-test", rec["schema_version"])

	w = performRequest(r, http.MethodGet, "/history/no-such-id", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvaluateToleratesHistoryFailure(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	// A broken history store must degrade the response, not fail it.
	require.NoError(t, a.db.Close())

	w := postJSON(r, "/evaluate", applicationBody(5000, 35, 20000, 15000, "medium"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "approved", body["decision"])
	_, hasID := body["id"]
	assert.False(t, hasID, "insert failed, no id should be returned")
}

func TestEvaluateResponseCaching(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()
	body := applicationBody(4800, 29, 22000, 16000, "medium")

	first := postJSON(r, "/evaluate", body)
	require.Equal(t, http.StatusOK, first.Code)

	second := postJSON(r, "/evaluate", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	stats := a.metrics.GetStats()
	assert.Equal(t, int64(1), stats["cache_hits"])
	assert.Equal(t, int64(1), stats["cache_misses"])
}

func TestOfferEndpoint(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	tests := []struct {
		name     string
		body     string
		validate func(t *testing.T, body map[string]interface{})
	}{
		{
			name: "approved with eligible product",
			body: applicationBody(5000, 35, 20000, 15000, "medium"),
			validate: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "approved", body["decision"])
				assert.Equal(t, true, body["eligible"])
				// score ~586 with a guarantee prices the secured product
				assert.Equal(t, "secured-plus", body["product_id"])
				assert.InDelta(t, 21000, body["approved_limit"].(float64), 1e-9)
				assert.Equal(t, 14.5, body["annual_rate"])
				assert.Equal(t, float64(24), body["term_months"])
				assert.NotEmpty(t, body["message"])
			},
		},
		{
			name: "relationship discounts lower the rate",
			body: `{"income":5000,"age":36,"credit_amount":20000,"guarantee_value":15000,` +
				`"guarantee_liquidity":"medium","loyalty_years":12,"investment_balance":250000}`,
			validate: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, true, body["eligible"])
				assert.Equal(t, 13.75, body["annual_rate"])
			},
		},
		{
			name: "denied application gets no product",
			body: applicationBody(2000, 35, 35000, 15000, "low"),
			validate: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "denied", body["decision"])
				assert.Equal(t, false, body["eligible"])
				_, hasProduct := body["product_id"]
				assert.False(t, hasProduct)
				assert.NotEmpty(t, body["message"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(r, "/offer", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			tt.validate(t, decodeBody(t, w))
		})
	}
}

func TestOfferEndpointValidation(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	w := postJSON(r, "/offer", `{"income": 5000`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(r, "/offer", applicationBody(5000, 12, 20000, 15000, "medium"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOfferApprovedWithoutEligibleProduct(t *testing.T) {
	a := newTestApp(t, func(cfg *appConfig) {
		cfg.Threshold = 0.3
	})
	r := a.setupRouter()

	// probability ~0.41 clears the lowered threshold but scores below
	// every product's floor
	w := postJSON(r, "/offer", applicationBody(3000, 35, 30000, 15000, "medium"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "approved", body["decision"])
	assert.Equal(t, false, body["eligible"])
	_, hasProduct := body["product_id"]
	assert.False(t, hasProduct)
	assert.NotEmpty(t, body["message"])
}

func TestOfferRateLimitIndependentOfEvaluate(t *testing.T) {
	a := newTestApp(t, func(cfg *appConfig) {
		cfg.RateLimit = ratelimit.Config{
			IPLimitPerMin:       100000,
			EvaluateLimitPerMin: 2,
			BurstMultiplier:     1, // fallback burst floors at 5
		}
	})
	r := a.setupRouter()

	// Distinct bodies keep the response cache from short-circuiting the
	// endpoint limiter.
	for i := 0; i < 5; i++ {
		w := postJSON(r, "/offer", applicationBody(5000+float64(i), 35, 20000, 15000, "medium"))
		require.Equal(t, http.StatusOK, w.Code, "request %d: %s", i, w.Body.String())
	}

	w := postJSON(r, "/offer", applicationBody(5999, 35, 20000, 15000, "medium"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// The evaluate endpoint keeps its own untouched budget.
	w = postJSON(r, "/evaluate", applicationBody(4321, 35, 20000, 15000, "medium"))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	blocks := a.metrics.GetRateLimitStats()["endpoint_blocks"].(map[string]int64)
	assert.GreaterOrEqual(t, blocks["/offer"], int64(1))
	_, evaluateBlocked := blocks["/evaluate"]
	assert.False(t, evaluateBlocked, "evaluate budget was charged for offer traffic")
}

func TestRespondErrorCountsExplanationTimeouts(t *testing.T) {
	a := newTestApp(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/evaluate", nil)

	a.respondError(c, &engine.ExplanationTimeoutError{Timeout: time.Second, Completed: 2})

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, int64(1), a.metrics.GetStats()["explanation_timeouts"])

	// Other evaluation failures leave the counter alone.
	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest(http.MethodPost, "/evaluate", nil)

	a.respondError(c2, &engine.MissingFeatureError{Fields: []string{"income"}})

	assert.Equal(t, http.StatusBadRequest, w2.Code)
	assert.Equal(t, int64(1), a.metrics.GetStats()["explanation_timeouts"])
}

func TestArtifactReloadEndpoint(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	nextModel := strings.ReplaceAll(testModelArtifact, "v-test", "v-test2")
	nextSchema := strings.ReplaceAll(testSchemaArtifact, "v-test", "v-test2")
	require.NoError(t, os.WriteFile(a.cfg.ModelPath, []byte(nextModel), 0o644))
	require.NoError(t, os.WriteFile(a.cfg.SchemaPath, []byte(nextSchema), 0o644))

	w := postJSON(r, "/artifacts/reload", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "v-test2", decodeBody(t, w)["schema_version"])

	w = performRequest(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, "v-test2", decodeBody(t, w)["schema_version"])
	assert.Equal(t, int64(1), a.metrics.GetStats()["artifact_reloads"])
}

func TestArtifactReloadFailureKeepsActivePair(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	// Model now claims a schema version the schema artifact does not carry.
	badModel := strings.ReplaceAll(testModelArtifact, "v-test", "v-mismatch")
	require.NoError(t, os.WriteFile(a.cfg.ModelPath, []byte(badModel), 0o644))

	w := postJSON(r, "/artifacts/reload", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = performRequest(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, "v-test", decodeBody(t, w)["schema_version"])
}

func TestCatalogEndpoint(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	w := performRequest(r, http.MethodGet, "/catalog", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	products := decodeBody(t, w)["products"].([]interface{})
	assert.Len(t, products, 3)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	w := performRequest(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body, "total_requests")
	assert.Contains(t, body, "explanation_timeouts")
	assert.Contains(t, body, "rate_limit_stats")
}

func TestSecurityHeaders(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	w := performRequest(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestCORSPreflight(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	w := performRequest(r, http.MethodOptions, "/evaluate", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestConcurrentEvaluations(t *testing.T) {
	a := newTestApp(t)
	r := a.setupRouter()

	const workers = 8
	const perWorker = 4

	var wg sync.WaitGroup
	failures := make(chan string, workers*perWorker)

	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				body := applicationBody(5000+float64(g*100+j), 35, 20000, 15000, "medium")
				w := postJSON(r, "/evaluate", body)
				if w.Code != http.StatusOK {
					failures <- fmt.Sprintf("worker %d request %d: status %d", g, j, w.Code)
				}
			}
		}(g)
	}

	wg.Wait()
	close(failures)
	for f := range failures {
		t.Error(f)
	}
}
