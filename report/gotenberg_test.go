package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func fakeGotenberg(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"up"}`))
	})
	mux.HandleFunc("/forms/chromium/convert/html", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "8.27", r.FormValue("paperWidth"))
		file, header, err := r.FormFile("files")
		if err != nil {
			http.Error(w, "missing index.html", http.StatusBadRequest)
			return
		}
		defer file.Close()
		require.Equal(t, "index.html", header.Filename)
		html, _ := io.ReadAll(file)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(append([]byte("%PDF "), html...))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRenderHTML(t *testing.T) {
	srv := fakeGotenberg(t, true)
	client := NewClient(srv.URL + "/")

	pdf, err := client.RenderHTML(context.Background(), "<p>PV-202610-00001</p>")
	require.NoError(t, err)
	require.Equal(t, "%PDF <p>PV-202610-00001</p>", string(pdf))
	require.NoError(t, client.Ping(context.Background()))
}

func TestRenderHTMLSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), "<p/>")
	require.ErrorContains(t, err, "status 500: chromium crashed")
}

func TestPingHandler(t *testing.T) {
	for _, tc := range []struct {
		healthy bool
		want    int
	}{{true, http.StatusOK}, {false, http.StatusServiceUnavailable}} {
		r := chi.NewRouter()
		NewHandler(NewClient(fakeGotenberg(t, tc.healthy).URL), nil).MountRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, tc.want, rec.Code)
	}
}
