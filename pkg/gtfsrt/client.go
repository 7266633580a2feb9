// Package gtfsrt reads live vehicle positions from a GTFS-Realtime feed.
package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"transitty/internal/domain"
	"transitty/internal/geo"
)

// RouteResolver maps a realtime trip to the type and display name of its
// route, usually from the matching static feed.
type RouteResolver interface {
	ResolveRoute(ctx context.Context, tripID, routeID string) (domain.RouteType, string, bool)
}

type Client struct {
	url        string
	routes     RouteResolver
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for the VehiclePositions feed at url. routes may be
// nil, in which case every vehicle is typed as other.
func New(url string, routes RouteResolver, logger *slog.Logger) *Client {
	return &Client{
		url:    url,
		routes: routes,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With("component", "gtfsrt_client"),
	}
}

// Vehicles returns the positions reported inside req.BBox.
func (c *Client) Vehicles(ctx context.Context, req domain.Request) (domain.VehicleSet, error) {
	feed, err := c.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	set := make(domain.VehicleSet)
	skipped := 0
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}

		loc := geo.Coordinate{
			Lat: float64(vp.GetPosition().GetLatitude()),
			Lng: float64(vp.GetPosition().GetLongitude()),
		}
		if !req.BBox.Contains(loc) {
			skipped++
			continue
		}

		v := &domain.Vehicle{
			Location:  loc,
			TripID:    vp.GetTrip().GetTripId(),
			VehicleID: vp.GetVehicle().GetId(),
			State:     stopStatus(vp),
			Type:      domain.RouteTypeOther,
			LineName:  vp.GetVehicle().GetLabel(),
		}
		if v.TripID == "" {
			v.TripID = entity.GetId()
		}
		if vp.GetPosition().Bearing != nil {
			b := int(math.Round(float64(vp.GetPosition().GetBearing())))
			v.Bearing = &b
		}

		routeID := vp.GetTrip().GetRouteId()
		if c.routes != nil {
			if t, name, ok := c.routes.ResolveRoute(ctx, v.TripID, routeID); ok {
				v.Type = t
				v.LineName = name
			}
		}
		if v.LineName == "" {
			v.LineName = routeID
		}
		set.Add(v)
	}

	c.logger.Debug("decoded vehicle positions",
		"entities", len(feed.GetEntity()),
		"vehicles", set.Count(),
		"outside_bbox", skipped,
	)
	return set, nil
}

func (c *Client) fetchFeed(ctx context.Context) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decoding feed: %w", err)
	}
	return &feed, nil
}

func stopStatus(vp *gtfs.VehiclePosition) domain.TripState {
	if vp.CurrentStatus == nil {
		return domain.TripStateUnknown
	}
	switch vp.GetCurrentStatus() {
	case gtfs.VehiclePosition_STOPPED_AT:
		return domain.TripStateAtStop
	case gtfs.VehiclePosition_IN_TRANSIT_TO, gtfs.VehiclePosition_INCOMING_AT:
		return domain.TripStateActive
	default:
		return domain.TripStateUnknown
	}
}
