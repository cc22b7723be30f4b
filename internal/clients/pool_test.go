package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(urls map[string]string) *Pool {
	return NewPool(urls, 100*time.Millisecond, 500*time.Millisecond, zap.NewNop())
}

func TestPool(t *testing.T) {
	t.Run("unknown backend is rejected", func(t *testing.T) {
		p := newTestPool(map[string]string{"prompt-guard": "http://localhost:9001"})

		_, err := p.ClientFor("mystery")
		assert.ErrorIs(t, err, ErrUnknownBackend)

		_, err = p.BaseURL("mystery")
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})

	t.Run("clients are created once and reused", func(t *testing.T) {
		p := newTestPool(map[string]string{"prompt-guard": "http://localhost:9001"})

		first, err := p.ClientFor("prompt-guard")
		require.NoError(t, err)
		second, err := p.ClientFor("prompt-guard")
		require.NoError(t, err)

		assert.Same(t, first, second)
	})

	t.Run("request timeout is applied", func(t *testing.T) {
		p := newTestPool(map[string]string{"prompt-guard": "http://localhost:9001"})

		c, err := p.ClientFor("prompt-guard")
		require.NoError(t, err)
		assert.Equal(t, 500*time.Millisecond, c.Timeout)
	})

	t.Run("health probe", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		p := newTestPool(map[string]string{"prompt-guard": srv.URL, "pii-detect": "http://127.0.0.1:1"})

		assert.True(t, p.Healthy(context.Background(), "prompt-guard"))
		assert.False(t, p.Healthy(context.Background(), "pii-detect"))
		assert.False(t, p.Healthy(context.Background(), "mystery"))
	})

	t.Run("shutdown is idempotent", func(t *testing.T) {
		p := newTestPool(map[string]string{"prompt-guard": "http://localhost:9001"})
		_, err := p.ClientFor("prompt-guard")
		require.NoError(t, err)

		p.Shutdown()
		p.Shutdown()
	})
}
