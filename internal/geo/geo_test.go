package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotest.tools/v3/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff        string
		trustProxy bool
		want       string
	}{
		{"remote-addr", "192.0.2.1:1234", "", false, "192.0.2.1"},
		{"xff-ignored", "192.0.2.1:1234", "198.51.100.7", false, "192.0.2.1"},
		{"xff-trusted", "192.0.2.1:1234", "198.51.100.7, 10.0.0.1", true, "198.51.100.7"},
		{"xff-garbage", "192.0.2.1:1234", "nope", true, "192.0.2.1"},
		{"ipv6", "[2001:db8::1]:443", "", false, "2001:db8::1"},
		{"no-port", "192.0.2.9", "", false, "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ip", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, ClientIP(r, tt.trustProxy), tt.want)
		})
	}
}

func TestHeaderLocator(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/location", nil)
	r.Header.Set("cf-ipcity", " Lisbon ")
	city, err := (&HeaderLocator{Header: "cf-ipcity"}).City(context.Background(), r, "")
	assert.NilError(t, err)
	assert.Equal(t, city, "Lisbon")
}

func TestLookupLocator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/203.0.113.5/json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"ip":"203.0.113.5","city":"Pune","region":"MH"}`))
	}))
	defer srv.Close()

	l := NewLookupLocator(srv.URL + "/%s/json")
	city, err := l.City(context.Background(), nil, "203.0.113.5")
	assert.NilError(t, err)
	assert.Equal(t, city, "Pune")

	_, err = l.City(context.Background(), nil, "198.51.100.1")
	assert.ErrorContains(t, err, "unexpected status 404")
}

func TestChain(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/location", nil)
	failing := NewLookupLocator("http://127.0.0.1:1/%s")
	c := Chain{&HeaderLocator{Header: "X-City"}, failing}
	_, err := c.City(context.Background(), r, "192.0.2.1")
	assert.Assert(t, err != nil)

	r.Header.Set("X-City", "Oslo")
	city, err := c.City(context.Background(), r, "192.0.2.1")
	assert.NilError(t, err)
	assert.Equal(t, city, "Oslo")
}
