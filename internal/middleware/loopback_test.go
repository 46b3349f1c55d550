package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireLoopback(t *testing.T) {
	handler := RequireLoopback(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:54321", http.StatusOK},
		{"[::1]:54321", http.StatusOK},
		{"192.168.1.50:54321", http.StatusForbidden},
		{"10.0.0.2:443", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/admin/devices", nil)
		req.RemoteAddr = tc.remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("remote %s: status = %d, want %d", tc.remote, rec.Code, tc.want)
		}
	}
}
