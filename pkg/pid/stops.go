package pid

import (
	"context"
	"encoding/json"
	"fmt"

	"transitty/internal/cache"
	"transitty/internal/domain"
	"transitty/internal/geo"
)

type stopsResponse struct {
	StopGroups []stopGroup `json:"stopGroups"`
}

type stopGroup struct {
	Name            string       `json:"name"`
	UniqueName      string       `json:"uniqueName"`
	AvgLat          float64      `json:"avgLat"`
	AvgLon          float64      `json:"avgLon"`
	Municipality    string       `json:"municipality"`
	MainTrafficType string       `json:"mainTrafficType"`
	Stops           []memberStop `json:"stops"`
}

type memberStop struct {
	Lines []stopLine `json:"lines"`
}

type stopLine struct {
	ID        json.Number `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	Direction string      `json:"direction"`
}

// Stops returns every stop group of the network. Filtering by area is left to
// the caller, which indexes the result.
func (c *Client) Stops(ctx context.Context, _ domain.Request) ([]*domain.Stop, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := c.today()
	if c.stops != nil && c.stopsDay == today {
		return c.stops, nil
	}

	data, err := c.dailyBody(ctx, c.stopsURL, cache.KeyStops(c.now()))
	if err != nil {
		return nil, fmt.Errorf("fetching stops: %w", err)
	}
	stops, err := parseStops(data)
	if err != nil {
		return nil, err
	}

	c.stops = stops
	c.stopsDay = today
	c.logger.Info("parsed stops", "stops", len(stops))
	return stops, nil
}

func parseStops(data []byte) ([]*domain.Stop, error) {
	var resp stopsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding stops: %w", err)
	}

	stops := make([]*domain.Stop, 0, len(resp.StopGroups))
	for _, g := range resp.StopGroups {
		if g.UniqueName == "" {
			continue
		}

		seen := make(map[domain.StopLine]struct{})
		var lines []domain.StopLine
		for _, s := range g.Stops {
			for _, l := range s.Lines {
				line := domain.StopLine{Type: domain.ParseRouteType(l.Type), Name: l.Name}
				if _, ok := seen[line]; ok {
					continue
				}
				seen[line] = struct{}{}
				lines = append(lines, line)
			}
		}

		stops = append(stops, &domain.Stop{
			ID:           g.UniqueName,
			Name:         g.Name,
			Location:     geo.Coordinate{Lat: g.AvgLat, Lng: g.AvgLon},
			Municipality: g.Municipality,
			MainType:     domain.ParseRouteType(g.MainTrafficType),
			Lines:        lines,
		})
	}
	return stops, nil
}
