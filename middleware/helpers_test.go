package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iwtcode/rigAdapter/internal/simulator"
)

func setupSimulator(t *testing.T, opts ...simulator.Option) (*simulator.Server, *MiddlewareAdapter) {
	t.Helper()
	sim := simulator.New(opts...)
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)
	return sim, NewMiddlewareAdapter(srv.URL, WithHTTPClient(srv.Client()))
}

// requestsWithPrefix оставляет из журнала симулятора строки с заданным префиксом.
func requestsWithPrefix(sim *simulator.Server, prefix string) []string {
	var out []string
	for _, line := range sim.Requests() {
		if strings.HasPrefix(line, prefix) {
			out = append(out, line)
		}
	}
	return out
}
