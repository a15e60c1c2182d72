// Package geocode turns coordinates into display addresses using a Photon
// compatible reverse geocoder.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

// Unavailable is shown in place of an address that could not be resolved.
const Unavailable = "Endereço não disponível"

// ErrNoAddress is returned when the geocoder answers without usable parts.
var ErrNoAddress = errors.New("geocode: no address for coordinates")

// Reverser is the interface used by the draft store and the reconciler.
type Reverser interface {
	Reverse(ctx context.Context, at models.Coord) (string, error)
}

// PhotonClient performs reverse lookups against a Photon HTTP server.
type PhotonClient struct {
	Endpoint string
	Client   *http.Client
}

func NewPhotonClient(endpoint string, timeout time.Duration) *PhotonClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PhotonClient{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

// Reverse queries /reverse?lat&lon and joins name, street, house number,
// city and state of the first feature.
func (p *PhotonClient) Reverse(ctx context.Context, at models.Coord) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(at.Lon, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocode: status %d", resp.StatusCode)
	}
	var out struct {
		Features []struct {
			Properties struct {
				Name        string `json:"name"`
				Street      string `json:"street"`
				HouseNumber string `json:"housenumber"`
				City        string `json:"city"`
				State       string `json:"state"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Features) == 0 {
		return "", ErrNoAddress
	}
	pr := out.Features[0].Properties
	var parts []string
	for _, s := range []string{pr.Name, pr.Street, pr.HouseNumber, pr.City, pr.State} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoAddress
	}
	return strings.Join(parts, ", "), nil
}

// Describe resolves at, degrading to Unavailable on any failure. Cancellation
// of ctx is not counted as a degraded lookup.
func Describe(ctx context.Context, r Reverser, at models.Coord, logger *slog.Logger) string {
	addr, err := r.Reverse(ctx, at)
	if err == nil {
		return addr
	}
	if ctx.Err() == nil {
		observability.DegradedLookups.WithLabelValues("geocode").Inc()
		logging.Or(logger).Warn("reverse geocode degraded", "lat", at.Lat, "lon", at.Lon, "error", err)
	}
	return Unavailable
}
