package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardcoord/internal/coreerr"
)

type echoReq struct {
	Value string `json:"value"`
}

type echoResp struct {
	Echoed string `json:"echoed"`
}

func TestPostJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in echoReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echoResp{Echoed: in.Value})
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()))
	out, err := PostJSON[echoReq, echoResp](context.Background(), c, srv.URL, echoReq{Value: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Echoed)
}

func TestPostJSON_NonOKStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()))
	_, err := PostJSON[echoReq, echoResp](context.Background(), c, srv.URL, echoReq{Value: "hi"})
	require.Error(t, err)
	assert.True(t, coreerr.HTTPStatus(err) != 0)

	var cErr *coreerr.Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, http.StatusConflict, cErr.Status)
}

func TestGet_RetriesTransportFailureThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echoResp{Echoed: "ok"})
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()), WithMaxAttempts(3))
	out, err := Get[echoResp](context.Background(), c, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Echoed)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestPostAck_DiscardsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()))
	err := PostAck(context.Background(), c, srv.URL, echoReq{Value: "x"})
	require.NoError(t, err)
}
