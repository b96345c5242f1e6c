package opticclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/decode":
			f, hdr, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			raw, _ := io.ReadAll(f)
			w.Header().Set("Content-Type", "application/json")
			switch {
			case hdr.Filename == "broken.png":
				http.Error(w, "cannot read image", http.StatusUnprocessableEntity)
			case len(raw) == 0:
				_, _ = io.WriteString(w, `{"payloads":[]}`)
			default:
				_, _ = io.WriteString(w, `{"payloads":["`+string(raw)+`"]}`)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDecode(t *testing.T) {
	c := New(newServer(t).URL+"/", time.Second)
	ctx := context.Background()

	got, err := c.Decode(ctx, strings.NewReader("QR-ANA"), "frame.png")
	require.NoError(t, err)
	assert.Equal(t, "QR-ANA", got)

	_, err = c.Decode(ctx, strings.NewReader(""), "empty.png")
	assert.ErrorIs(t, err, ErrNoCode)

	_, err = c.Decode(ctx, strings.NewReader("x"), "broken.png")
	assert.ErrorContains(t, err, "422")
}

func TestHealth(t *testing.T) {
	c := New(newServer(t).URL, time.Second)
	assert.NoError(t, c.Health(context.Background()))

	assert.ErrorIs(t, New("", time.Second).Health(context.Background()), ErrNotConfigured)
	_, err := New("", time.Second).Decode(context.Background(), strings.NewReader("x"), "a.png")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
