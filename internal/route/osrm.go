// Package route measures the drive between two points and does the
// clock arithmetic the ride wizard needs.
package route

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-client/internal/models"
)

// Router is the interface used by the orchestrator to measure a route.
type Router interface {
	Measure(ctx context.Context, from, to models.Coord) (Measurement, error)
}

// Measurement is one OSRM route summary.
type Measurement struct {
	Duration       time.Duration
	DistanceMeters float64
}

// Minutes is the duration rounded to whole minutes, the unit persisted for
// the end time computation.
func (m Measurement) Minutes() int { return int(math.Round(m.Duration.Minutes())) }

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OSRMClient{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

// Measure queries OSRM /route between points and returns the first route.
func (o *OSRMClient) Measure(ctx context.Context, from, to models.Coord) (Measurement, error) {
	// OSRM wants lon,lat order
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false", o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Measurement{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Measurement{}, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Duration float64 `json:"duration"`
			Distance float64 `json:"distance"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Measurement{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Measurement{}, fmt.Errorf("osrm no route: %v", out.Code)
	}
	r := out.Routes[0]
	return Measurement{
		Duration:       time.Duration(r.Duration * float64(time.Second)),
		DistanceMeters: r.Distance,
	}, nil
}
