package pubmed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const summaryJSON = `{
  "result": {
    "uids": ["111", "222"],
    "111": {
      "title": "Enzyme replacement therapy in Fabry disease",
      "authors": [{"name": "Smith J"}, {"name": "Doe A"}, {"name": "Lee K"}, {"name": "Kim H"}],
      "fulljournalname": "Journal of Rare Diseases",
      "pubdate": "2023 Mar 4"
    },
    "222": {
      "authors": [],
      "fulljournalname": "Orphanet",
      "pubdate": "2021"
    }
  }
}`

func newTestServer(t *testing.T, idlist string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		q := r.URL.Query()
		assert.Equal(t, "pubmed", q.Get("db"))
		assert.Equal(t, "json", q.Get("retmode"))
		switch r.URL.Path {
		case "/esearch.fcgi":
			assert.Equal(t, "Fabry disease", q.Get("term"))
			_, _ = w.Write([]byte(`{"esearchresult":{"idlist":` + idlist + `}}`))
		case "/esummary.fcgi":
			assert.Equal(t, "111,222", q.Get("id"))
			_, _ = w.Write([]byte(summaryJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL string) *Client {
	return NewClient(func(o *Options) {
		o.BaseURL = baseURL
		o.RequestsPerSecond = -1
	})
}

func TestLookup_FormatsInSearchOrder(t *testing.T) {
	srv := newTestServer(t, `["111","222"]`, nil)
	c := newTestClient(srv.URL)

	articles, err := c.Lookup(context.Background(), "Fabry disease", 2)
	require.NoError(t, err)
	require.Len(t, articles, 2)

	want := "PMID 111: Enzyme replacement therapy in Fabry disease\n" +
		"  Smith J, Doe A, Lee K — Journal of Rare Diseases (2023)\n\n" +
		"PMID 222: No title\n" +
		"   — Orphanet (2021)"
	assert.Equal(t, want, FormatArticles(articles))
}

func TestLookup_NoResults(t *testing.T) {
	srv := newTestServer(t, `[]`, nil)
	c := newTestClient(srv.URL)

	_, err := c.Lookup(context.Background(), "Fabry disease", 3)
	assert.ErrorIs(t, err, ErrNoResults)
	assert.Equal(t, NoResultsMessage, FormatArticles(nil))
}

func TestLookup_Cached(t *testing.T) {
	var hits int32
	srv := newTestServer(t, `["111","222"]`, &hits)
	c := newTestClient(srv.URL)

	for range 3 {
		_, err := c.Lookup(context.Background(), "Fabry disease", 2)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestLookup_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Lookup(context.Background(), "x", 3)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, "esearch.fcgi", httpErr.Endpoint)
}

func TestClient_SendsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "ops@example.org", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"esearchresult":{"idlist":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(func(o *Options) {
		o.BaseURL = srv.URL + "/"
		o.APIKey = "key"
		o.Email = "ops@example.org"
	})
	ids, err := c.Search(context.Background(), "x", 1)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestArticle_Year(t *testing.T) {
	assert.Equal(t, "2024", Article{PubDate: "2024 Jan"}.Year())
	assert.Equal(t, "20", Article{PubDate: "20"}.Year())
}
