// Package location finds a position for the map to follow.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"transitty/internal/domain"
	"transitty/internal/geo"
)

const DefaultCDWiFiURL = "http://cdwifi.cz/portal/api/vehicle/info"

type cdwifiVehicleInfo struct {
	ID       string  `json:"id"`
	DeviceID string  `json:"deviceId"`
	Name     string  `json:"name"`
	Group    string  `json:"group"`
	GpsLat   float64 `json:"gpsLat"`
	GpsLng   float64 `json:"gpsLng"`
	Speed    float64 `json:"speed"`
	Altitude float64 `json:"altitude"`
}

// CDWiFi reads the GPS position of the train from the on-board Wi-Fi portal
// of České dráhy.
type CDWiFi struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewCDWiFi(url string, logger *slog.Logger) *CDWiFi {
	if url == "" {
		url = DefaultCDWiFiURL
	}
	return &CDWiFi{
		url: url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger.With("component", "cdwifi"),
	}
}

func (c *CDWiFi) Locate(ctx context.Context, _ domain.Request) (domain.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return domain.Location{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Location{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Location{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var info cdwifiVehicleInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return domain.Location{}, fmt.Errorf("decoding response: %w", err)
	}

	c.logger.Debug("train position",
		"vehicle", info.Name,
		"lat", info.GpsLat,
		"lng", info.GpsLng,
		"speed", info.Speed,
	)
	return domain.Location{
		Coordinate: geo.Coordinate{Lat: info.GpsLat, Lng: info.GpsLng},
		Speed:      &info.Speed,
		Altitude:   &info.Altitude,
	}, nil
}
