package resetclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResetPostsSignedPayload(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "shared-secret")
	require.NoError(t, c.Reset(context.Background(), 5))
	require.Equal(t, "/reset/"+c.sign(5), gotPath)
}

func TestSignIsDeterministicAndKeyed(t *testing.T) {
	a := New("http://unused", "secret-a")
	b := New("http://unused", "secret-b")

	require.Equal(t, a.sign(5), a.sign(5), "signing the same location twice must be deterministic")
	require.NotEqual(t, a.sign(5), a.sign(6), "different locations must sign differently")
	require.NotEqual(t, a.sign(5), b.sign(5), "different secrets must sign differently")
}

func TestResetReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	err := c.Reset(context.Background(), 1)
	require.Error(t, err)
}
