package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acc_linker/internal/domain"
)

type fakeLinks struct {
	loaded bool
	links  []domain.Link
}

func (f *fakeLinks) Loaded() bool { return f.loaded }

func (f *fakeLinks) Snapshot() []domain.Link { return f.links }

func (f *fakeLinks) ByUpstream(kind string) []domain.Link {
	var out []domain.Link
	for _, l := range f.links {
		if l.UpstreamKind == kind {
			out = append(out, l)
		}
	}
	return out
}

func newTestRouter(links Links) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(links, time.Now().Add(-time.Minute), logger)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestRouter(&fakeLinks{}), "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp healthzResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, 60.0)
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		loaded bool
		status int
	}{
		{name: "not loaded", loaded: false, status: http.StatusServiceUnavailable},
		{name: "loaded", loaded: true, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestRouter(&fakeLinks{loaded: tt.loaded}), "/readyz")

			assert.Equal(t, tt.status, rec.Code)
			var resp readyzResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.loaded, resp.Ready)
		})
	}
}

func TestListLinks(t *testing.T) {
	links := &fakeLinks{links: []domain.Link{
		{ID: 1, UpstreamKind: "Matrix", ChatID: "!a", UserID: "@u", AdapterKind: domain.LinuxOrgRu, LinkedUserID: "u", Verified: true},
		{UpstreamKind: "Telegram", ChatID: "42", UserID: "7", AdapterKind: domain.LinuxOrgRu, LinkedUserID: "v"},
	}}
	h := newTestRouter(links)

	t.Run("all", func(t *testing.T) {
		rec := get(t, h, "/api/links")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp linksResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 2, resp.Count)
		assert.True(t, resp.Links[0].SameAs(links.links[0]))
		assert.True(t, resp.Links[0].Verified)
	})

	t.Run("filtered", func(t *testing.T) {
		rec := get(t, h, "/api/links?upstream=Telegram")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp linksResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "v", resp.Links[0].LinkedUserID)
	})

	t.Run("empty filter result", func(t *testing.T) {
		rec := get(t, h, "/api/links?upstream=IRC")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"count":0,"links":[]}`, rec.Body.String())
	})
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, newTestRouter(&fakeLinks{}), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
