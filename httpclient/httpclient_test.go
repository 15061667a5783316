package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/donomii/qospanel/testenv"
)

func TestSimpleGet(t *testing.T) {
	testenv.RequireLoopback(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			http.Error(w, "want json", http.StatusNotAcceptable)
			return
		}
		w.Write([]byte(`{"fsname":"lustre"}`))
	}))
	defer srv.Close()

	body, status, err := SimpleGet(context.Background(), srv.Client(), srv.URL, 1024, WithHeader("Accept", "application/json"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"fsname":"lustre"}`, string(body))

	_, status, err = SimpleGet(context.Background(), srv.Client(), srv.URL, 1024)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotAcceptable, status)
}

func TestSimpleGetLimit(t *testing.T) {
	testenv.RequireLoopback(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	body, _, err := SimpleGet(context.Background(), srv.Client(), srv.URL, 10)
	require.ErrorIs(t, err, ErrBodyTooLarge)
	require.Len(t, body, 10)
}

func TestCloseIsIdempotent(t *testing.T) {
	var r *Response
	require.NoError(t, r.Close())
	body, err := r.ReadAllAndClose(10)
	require.NoError(t, err)
	require.Nil(t, body)
}
