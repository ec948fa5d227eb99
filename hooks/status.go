package hooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// ServiceStatus is the health check outcome of one registered service.
type ServiceStatus struct {
	Service
	Health     string `json:"health,omitempty"`
	API        string `json:"api,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Status     any    `json:"status,omitempty"`
}

// Status health checks every service that registered a health path and
// reports whether all of them answered 200. Services without a health path
// are listed unchecked.
func (d *Dispatcher) Status(ctx context.Context, header http.Header) ([]ServiceStatus, bool) {
	healthy := true
	services := d.registry.Services()
	out := make([]ServiceStatus, 0, len(services))
	for _, svc := range services {
		st := ServiceStatus{Service: svc, Health: svc.HealthURL(), API: svc.APIURL()}
		if st.Health != "" {
			st.StatusCode, st.Status = d.probe(ctx, st.Health, header)
			if st.StatusCode != http.StatusOK {
				healthy = false
			}
		}
		out = append(out, st)
	}
	return out, healthy
}

func (d *Dispatcher) probe(ctx context.Context, url string, header http.Header) (int, any) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return http.StatusInternalServerError, err.Error()
	}
	for key, values := range scrubHeaders(header) {
		req.Header[key] = values
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return http.StatusInternalServerError, err.Error()
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, http.StatusText(resp.StatusCode)
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if json.Unmarshal(body, &parsed) == nil {
			return resp.StatusCode, parsed
		}
	}
	return resp.StatusCode, string(body)
}
