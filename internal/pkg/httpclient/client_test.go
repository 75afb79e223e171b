package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type staticResolver struct {
	host string
	port int
	err  error
}

func (r staticResolver) DiscoverServiceInstance(string) (string, int, error) {
	return r.host, r.port, r.err
}

func TestClient_BaseURL(t *testing.T) {
	c := NewClient(otel.Tracer("test"), staticResolver{host: "10.0.0.5", port: 8090})

	u, err := c.BaseURL("http://localhost:8090/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090", u)

	u, err = c.BaseURL("storage-service")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8090", u)

	_, err = NewClient(otel.Tracer("test"), nil).BaseURL("storage-service")
	assert.Error(t, err)

	boom := errors.New("no instance")
	_, err = NewClient(otel.Tracer("test"), staticResolver{err: boom}).BaseURL("storage-service")
	assert.ErrorIs(t, err, boom)
}

func TestClient_DoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			var in map[string]int
			_ = json.NewDecoder(r.Body).Decode(&in)
			in["seen"] = 1
			_ = json.NewEncoder(w).Encode(in)
		default:
			http.Error(w, "stock not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := NewClient(otel.Tracer("test"), nil)

	var out map[string]int
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, srv.URL+"/echo", map[string]int{"a": 2}, &out))
	assert.Equal(t, map[string]int{"a": 2, "seen": 1}, out)

	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL+"/missing", nil, &out)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
	assert.Contains(t, statusErr.Error(), "stock not found")
}
