package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

func testPolicy() notice.RetryPolicy {
	return notice.NewExponentialRetryPolicy(2, time.Millisecond, 5*time.Millisecond)
}

func TestFetch_DirectSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>notices</html>"))
	}))
	defer srv.Close()

	client, err := New(Config{Timeout: time.Second}, testPolicy(), []notice.District{
		{Code: notice.Bukgu},
	}, zap.NewNop())
	require.NoError(t, err)

	resp, err := client.Fetch(context.Background(), notice.FetchRequest{
		District: notice.Bukgu,
		URL:      srv.URL,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "notices")
	require.False(t, resp.UsedProxy)
}

func TestFetch_BlockedFallsBackToProxyOnce(t *testing.T) {
	t.Parallel()

	var directHits, proxyHits atomic.Int32

	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		directHits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer direct.Close()

	// A fake forward proxy: it receives the absolute-URI request and answers
	// for the origin itself.
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		proxyHits.Add(1)
		_, _ = w.Write([]byte("proxied body"))
	}))
	defer proxy.Close()

	client, err := New(Config{ProxyURL: proxy.URL, Timeout: time.Second}, testPolicy(), []notice.District{
		{Code: notice.Haeundae, Block: notice.BlockSignature{StatusCode: http.StatusForbidden}},
	}, zap.NewNop())
	require.NoError(t, err)

	resp, err := client.Fetch(context.Background(), notice.FetchRequest{
		District: notice.Haeundae,
		URL:      direct.URL,
	})
	require.NoError(t, err)
	require.True(t, resp.UsedProxy)
	require.Equal(t, "proxied body", string(resp.Body))
	require.Equal(t, int32(1), directHits.Load())
	require.Equal(t, int32(1), proxyHits.Load())

	// The hint is cached: subsequent fetches skip the direct transport.
	_, err = client.Fetch(context.Background(), notice.FetchRequest{
		District: notice.Haeundae,
		URL:      direct.URL,
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), directHits.Load())
	require.Equal(t, int32(2), proxyHits.Load())
	require.True(t, client.UsedProxy(notice.Haeundae))
}

func TestFetch_BlockedProxyResponseIsFinal(t *testing.T) {
	t.Parallel()

	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer direct.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer proxy.Close()

	client, err := New(Config{ProxyURL: proxy.URL, Timeout: time.Second}, testPolicy(), []notice.District{
		{Code: notice.Jingu, Block: notice.BlockSignature{StatusCode: http.StatusForbidden}},
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), notice.FetchRequest{
		District: notice.Jingu,
		URL:      direct.URL,
	})
	var fe *notice.FetchError
	require.ErrorAs(t, err, &fe)
	require.ErrorIs(t, err, notice.ErrBlocked)
	require.Equal(t, notice.Jingu, fe.District)
}

func TestFetch_BodyPatternSignature(t *testing.T) {
	t.Parallel()

	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>Access Denied by firewall</html>"))
	}))
	defer direct.Close()

	client, err := New(Config{Timeout: time.Second}, testPolicy(), []notice.District{
		{Code: notice.Sasang, Block: notice.BlockSignature{BodyPattern: "access denied"}},
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), notice.FetchRequest{
		District: notice.Sasang,
		URL:      direct.URL,
	})
	require.ErrorIs(t, err, notice.ErrBlocked)
}

func TestFetch_RegistryHintSkipsDirect(t *testing.T) {
	t.Parallel()

	var directHits atomic.Int32
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		directHits.Add(1)
		_, _ = w.Write([]byte("direct"))
	}))
	defer direct.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("proxied"))
	}))
	defer proxy.Close()

	client, err := New(Config{ProxyURL: proxy.URL, Timeout: time.Second}, testPolicy(), []notice.District{
		{Code: notice.Junggu, RequiresProxy: true},
	}, zap.NewNop())
	require.NoError(t, err)

	resp, err := client.Fetch(context.Background(), notice.FetchRequest{
		District: notice.Junggu,
		URL:      direct.URL,
	})
	require.NoError(t, err)
	require.True(t, resp.UsedProxy)
	require.Equal(t, int32(0), directHits.Load())
}

func TestFetch_TransientErrorRetriedSameTransport(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// Abort the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("server does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	client, err := New(Config{Timeout: time.Second}, testPolicy(), []notice.District{
		{Code: notice.Namgu},
	}, zap.NewNop())
	require.NoError(t, err)

	resp, err := client.Fetch(context.Background(), notice.FetchRequest{
		District: notice.Namgu,
		URL:      srv.URL,
	})
	require.NoError(t, err)
	require.Equal(t, "recovered", string(resp.Body))
	require.GreaterOrEqual(t, hits.Load(), int32(2))
}

func TestFetch_PostForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "2", r.PostForm.Get("pageIndex"))
		_, _ = w.Write([]byte("page two"))
	}))
	defer srv.Close()

	client, err := New(Config{Timeout: time.Second}, testPolicy(), nil, zap.NewNop())
	require.NoError(t, err)

	resp, err := client.Fetch(context.Background(), notice.FetchRequest{
		District: notice.Gangseo,
		Method:   http.MethodPost,
		URL:      srv.URL,
		Form:     map[string][]string{"pageIndex": {"2"}},
	})
	require.NoError(t, err)
	require.Equal(t, "page two", string(resp.Body))
}
