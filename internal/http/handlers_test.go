package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patient-summary-agent/internal/cache"
	"patient-summary-agent/internal/core"
	"patient-summary-agent/internal/dataset"
	"patient-summary-agent/pkg"
)

type fakeAdvisor struct {
	summary   *pkg.PatientSummary
	requestID string
	err       error
}

func (f *fakeAdvisor) Advise(ctx context.Context, requestID string, summary *pkg.PatientSummary) (string, error) {
	f.summary, f.requestID = summary, requestID
	if f.err != nil {
		return "", f.err
	}
	return "- Walk daily", nil
}

type fakeNotes struct {
	mu    sync.Mutex
	pages [][2]int
	err   error
}

func (f *fakeNotes) Total(ctx context.Context) (int, error) { return 42, nil }

func (f *fakeNotes) Page(ctx context.Context, page, size int) ([]string, error) {
	f.mu.Lock()
	f.pages = append(f.pages, [2]int{page, size})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []string{"S: headache"}, nil
}

func (f *fakeNotes) CachedPages(ctx context.Context) (int, error) { return 3, nil }

type fakeEvents struct {
	ch chan pkg.PageEvent
}

func (f *fakeEvents) Listen(ctx context.Context) (<-chan pkg.PageEvent, error) {
	return f.ch, nil
}

func newTestServer(advice *fakeAdvisor, notes *fakeNotes, opts Options) *Server {
	return NewServer(advice, notes, nil, zerolog.Nop(), opts)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdvice_OK(t *testing.T) {
	advisor := &fakeAdvisor{}
	srv := newTestServer(advisor, &fakeNotes{}, Options{})

	body := `{"summary": {"patientName": "x", "inpatientCarePlansRecord": [
		{"Addresses": ["Diabetes"], "Goal": "HbA1c below 7%"},
		{"Addresses": ["Obesity"], "Goal": ["Lose weight", "_"]}
	]}}`
	rec := do(t, srv, http.MethodPost, "/advice", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp pkg.AdviceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "- Walk daily", resp.Advice)

	require.NotNil(t, advisor.summary)
	plans := advisor.summary.InpatientCarePlansRecord
	require.Len(t, plans, 2)
	assert.Equal(t, pkg.StringList{"HbA1c below 7%"}, plans[0].Goal)
	assert.Equal(t, pkg.StringList{"Lose weight", "_"}, plans[1].Goal)
	assert.NotEmpty(t, advisor.requestID)
	assert.Equal(t, advisor.requestID, rec.Header().Get(RequestIDHeader))
}

func TestAdvice_EmptySummaryIsAccepted(t *testing.T) {
	advisor := &fakeAdvisor{}
	srv := newTestServer(advisor, &fakeNotes{}, Options{})

	rec := do(t, srv, http.MethodPost, "/advice", `{"summary": {}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, advisor.summary.InpatientCarePlansRecord)
}

func TestAdvice_Validation(t *testing.T) {
	srv := newTestServer(&fakeAdvisor{}, &fakeNotes{}, Options{})

	for _, body := range []string{`not json`, `{}`, `{"summary": null}`, `{"summary": {"inpatientCarePlansRecord": [{"Goal": 5}]}}`} {
		rec := do(t, srv, http.MethodPost, "/advice", body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
		var resp pkg.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Error)
	}
}

func TestAdvice_LLMFailure(t *testing.T) {
	srv := newTestServer(&fakeAdvisor{err: errors.New("boom")}, &fakeNotes{}, Options{})

	rec := do(t, srv, http.MethodPost, "/advice", `{"summary": {}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"failed to generate advice"}`, rec.Body.String())
}

func TestNotes_Defaults(t *testing.T) {
	notes := &fakeNotes{}
	srv := newTestServer(&fakeAdvisor{}, notes, Options{})

	rec := do(t, srv, http.MethodGet, "/notes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"page":1,"size":10,"total":42,"notes":["S: headache"]}`, rec.Body.String())
	assert.Equal(t, [][2]int{{1, 10}}, notes.pages)
}

func TestNotes_Params(t *testing.T) {
	notes := &fakeNotes{}
	srv := newTestServer(&fakeAdvisor{}, notes, Options{})

	rec := do(t, srv, http.MethodGet, "/notes?page=3&size=100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [][2]int{{3, 100}}, notes.pages)
}

func TestNotes_Validation(t *testing.T) {
	notes := &fakeNotes{}
	srv := newTestServer(&fakeAdvisor{}, notes, Options{})

	for _, q := range []string{"page=0", "page=-1", "size=0", "size=101", "page=abc", "size=1.5"} {
		rec := do(t, srv, http.MethodGet, "/notes?"+q, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
	}
	assert.Empty(t, notes.pages)
}

func TestNotes_GenerationFailure(t *testing.T) {
	srv := newTestServer(&fakeAdvisor{}, &fakeNotes{err: errors.New("model down")}, Options{})

	rec := do(t, srv, http.MethodGet, "/notes?page=1&size=2", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNotes_UnreadableDatasetIs500(t *testing.T) {
	err := fmt.Errorf("read page 1: %w", fmt.Errorf("%w: disk gone", dataset.ErrUnreadable))
	srv := newTestServer(&fakeAdvisor{}, &fakeNotes{err: err}, Options{})

	rec := do(t, srv, http.MethodGet, "/notes?page=1&size=2", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to read conversations"}`, rec.Body.String())
}

type rowSource struct{ rows [][]string }

func (r rowSource) Total(ctx context.Context) (int, error) { return len(r.rows), nil }

func (r rowSource) Page(ctx context.Context, page, size int) ([]string, [][]string, error) {
	start := (page - 1) * size
	if start >= len(r.rows) {
		return []string{"conversation"}, [][]string{}, nil
	}
	end := min(start+size, len(r.rows))
	return []string{"conversation"}, r.rows[start:end], nil
}

type cannedLLM struct{}

func (cannedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return "SOAP Note: S: sore throat", nil
}

func TestNotes_PastTheEndIsEmptyList(t *testing.T) {
	notes := core.NewNoteService(rowSource{rows: [][]string{{"Doctor: hi"}}}, cache.NewMemory(), cannedLLM{}, 4, zerolog.Nop())
	srv := NewServer(&fakeAdvisor{}, notes, nil, zerolog.Nop(), Options{})

	rec := do(t, srv, http.MethodGet, "/notes?page=9&size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"page":9,"size":2,"total":1,"notes":[]}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/notes?page=1&size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"page":1,"size":2,"total":1,"notes":["S: sore throat"]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeAdvisor{}, &fakeNotes{}, Options{})

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","cached_pages":3,"total":42}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(&fakeAdvisor{}, &fakeNotes{}, Options{})

	rec := do(t, srv, http.MethodGet, "/notes/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(&fakeAdvisor{}, &fakeNotes{}, Options{RateLimitRPS: 0.001, RateLimitBurst: 2})

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/notes", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/notes", "").Code)
	rec := do(t, srv, http.MethodGet, "/notes", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// health checks are never limited
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)
}

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestJWTAuth(t *testing.T) {
	srv := newTestServer(&fakeAdvisor{}, &fakeNotes{}, Options{
		JWT: &JWTConfig{Secret: []byte("s3cret"), Issuer: "gateway"},
	})

	get := func(auth string) int {
		req := httptest.NewRequest(http.MethodGet, "/notes", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}

	valid := signed(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "clinician-1",
		Issuer:    "gateway",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	assert.Equal(t, http.StatusOK, get("Bearer "+valid))
	assert.Equal(t, http.StatusUnauthorized, get(""))
	assert.Equal(t, http.StatusUnauthorized, get("Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, get("Bearer "+signed(t, "other", jwt.RegisteredClaims{Issuer: "gateway"})))
	assert.Equal(t, http.StatusUnauthorized, get("Bearer "+signed(t, "s3cret", jwt.RegisteredClaims{Issuer: "someone-else"})))
	assert.Equal(t, http.StatusUnauthorized, get("Bearer "+signed(t, "s3cret", jwt.RegisteredClaims{
		Issuer:    "gateway",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})))

	// health stays open
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecovery(t *testing.T) {
	srv := newTestServer(&fakeAdvisor{}, &fakeNotes{}, Options{})
	srv.echo.GET("/panic", func(c echo.Context) error { panic("kaboom") })

	rec := do(t, srv, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestEvents_StreamsPageReady(t *testing.T) {
	events := &fakeEvents{ch: make(chan pkg.PageEvent, 1)}
	srv := NewServer(&fakeAdvisor{}, &fakeNotes{}, events, zerolog.Nop(), Options{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	events.ch <- pkg.PageEvent{Page: 4, Size: 2, Notes: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/notes/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: page_ready\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"page\":4,\"size\":2,\"notes\":2}\n", line)

	close(events.ch)
}
