package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"transitty/internal/domain"
	"transitty/internal/geo"
)

// mainTypePriority decides the main mode of a stop served by several modes.
var mainTypePriority = []domain.RouteType{
	domain.RouteTypeSubway,
	domain.RouteTypeRail,
	domain.RouteTypeTram,
	domain.RouteTypeTrolleybus,
	domain.RouteTypeBus,
	domain.RouteTypeFerry,
	domain.RouteTypeOther,
}

type routeInfo struct {
	id        string
	name      string
	longName  string
	routeType domain.RouteType
	color     color.RGBA
}

type shapePoint struct {
	coord    geo.Coordinate
	sequence int
}

type stopInfo struct {
	stop   *domain.Stop
	parent string
}

// parseState holds the intermediate tables of one archive.
type parseState struct {
	routes      map[string]*routeInfo
	shapePoints map[string][]shapePoint
	routeShapes map[string][]string
	tripShapes  map[string]map[string]bool
	tripRoutes  map[string]string
	stops       map[string]*stopInfo
	stopOrder   []string
	stopRoutes  map[string]map[string]struct{}
}

type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	return &Parser{
		logger: logger.With("component", "gtfs_parser"),
	}
}

// Parse reads the static tables of a GTFS archive into a Feed. routes.txt and
// stops.txt are required; the remaining files only add detail.
func (p *Parser) Parse(reader *zip.Reader) (*Feed, error) {
	totalStart := time.Now()
	p.logger.Info("starting GTFS parsing")

	st := &parseState{
		routes:      make(map[string]*routeInfo),
		shapePoints: make(map[string][]shapePoint),
		routeShapes: make(map[string][]string),
		tripShapes:  make(map[string]map[string]bool),
		tripRoutes:  make(map[string]string),
		stops:       make(map[string]*stopInfo),
		stopRoutes:  make(map[string]map[string]struct{}),
	}

	fileMap := make(map[string]*zip.File)
	for _, file := range reader.File {
		fileMap[file.Name] = file
		p.logger.Debug("found file in archive",
			"name", file.Name,
			"compressed_size", file.CompressedSize64,
			"uncompressed_size", file.UncompressedSize64,
		)
	}

	steps := []struct {
		name     string
		required bool
		parse    func(record func(string) string)
	}{
		{"routes.txt", true, st.addRoute},
		{"shapes.txt", false, st.addShapePoint},
		{"trips.txt", false, st.addTrip},
		{"stops.txt", true, st.addStop},
		{"stop_times.txt", false, st.addStopTime},
	}

	for _, step := range steps {
		file, ok := fileMap[step.name]
		if !ok {
			if step.required {
				return nil, fmt.Errorf("missing %s", step.name)
			}
			continue
		}

		start := time.Now()
		rows, err := readCSV(file, step.parse)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", strings.TrimSuffix(step.name, ".txt"), err)
		}
		p.logger.Info("parsed file",
			"name", step.name,
			"rows", rows,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	feed := st.build()
	p.logger.Info("GTFS parsing completed",
		"total_duration_ms", time.Since(totalStart).Milliseconds(),
		"routes", feed.Routes.Count(),
		"stops", len(feed.Stops),
		"trips", len(feed.TripRoutes),
	)
	return feed, nil
}

func (st *parseState) addRoute(field func(string) string) {
	routeType := domain.RouteTypeBus
	if v, err := strconv.Atoi(field("route_type")); err == nil {
		routeType = domain.RouteTypeFromGTFS(v)
	}

	r := &routeInfo{
		id:        field("route_id"),
		name:      field("route_short_name"),
		longName:  field("route_long_name"),
		routeType: routeType,
	}
	if r.name == "" {
		r.name = r.longName
	}
	if r.name == "" {
		r.name = r.id
	}
	if r.longName == "" {
		r.longName = r.name
	}
	if c, ok := parseColor(field("route_color")); ok {
		r.color = c
	}
	st.routes[r.id] = r
}

func (st *parseState) addShapePoint(field func(string) string) {
	shapeID := field("shape_id")
	lat, _ := strconv.ParseFloat(field("shape_pt_lat"), 64)
	lon, _ := strconv.ParseFloat(field("shape_pt_lon"), 64)
	seq, _ := strconv.Atoi(field("shape_pt_sequence"))

	st.shapePoints[shapeID] = append(st.shapePoints[shapeID], shapePoint{
		coord:    geo.Coordinate{Lat: lat, Lng: lon},
		sequence: seq,
	})
}

func (st *parseState) addTrip(field func(string) string) {
	tripID := field("trip_id")
	routeID := field("route_id")
	shapeID := field("shape_id")

	if tripID != "" && routeID != "" {
		st.tripRoutes[tripID] = routeID
	}
	if routeID == "" || shapeID == "" {
		return
	}
	if st.tripShapes[routeID] == nil {
		st.tripShapes[routeID] = make(map[string]bool)
	}
	if !st.tripShapes[routeID][shapeID] {
		st.tripShapes[routeID][shapeID] = true
		st.routeShapes[routeID] = append(st.routeShapes[routeID], shapeID)
	}
}

func (st *parseState) shape(id string) []geo.Coordinate {
	pts := st.shapePoints[id]
	sort.SliceStable(pts, func(i, j int) bool {
		return pts[i].sequence < pts[j].sequence
	})
	coords := make([]geo.Coordinate, len(pts))
	for i, p := range pts {
		coords[i] = p.coord
	}
	return coords
}

func (st *parseState) addStop(field func(string) string) {
	switch field("location_type") {
	case "", "0", "1":
	default:
		return
	}

	lat, _ := strconv.ParseFloat(field("stop_lat"), 64)
	lon, _ := strconv.ParseFloat(field("stop_lon"), 64)
	id := field("stop_id")
	if id == "" {
		return
	}

	st.stops[id] = &stopInfo{
		stop: &domain.Stop{
			ID:       id,
			Name:     field("stop_name"),
			Location: geo.Coordinate{Lat: lat, Lng: lon},
			MainType: domain.RouteTypeOther,
		},
		parent: field("parent_station"),
	}
	st.stopOrder = append(st.stopOrder, id)
}

func (st *parseState) addStopTime(field func(string) string) {
	routeID, ok := st.tripRoutes[field("trip_id")]
	if !ok {
		return
	}
	stopID := field("stop_id")
	// Platforms report their lines on the station they belong to.
	if info, ok := st.stops[stopID]; ok && info.parent != "" {
		if _, ok := st.stops[info.parent]; ok {
			stopID = info.parent
		}
	}
	if st.stopRoutes[stopID] == nil {
		st.stopRoutes[stopID] = make(map[string]struct{})
	}
	st.stopRoutes[stopID][routeID] = struct{}{}
}

func (st *parseState) build() *Feed {
	feed := &Feed{
		Routes:     make(domain.RouteSet),
		RouteTypes: make(map[string]domain.RouteType, len(st.routes)),
		RouteNames: make(map[string]string, len(st.routes)),
		TripRoutes: st.tripRoutes,
	}

	for id, r := range st.routes {
		feed.RouteTypes[id] = r.routeType
		feed.RouteNames[id] = r.name

		var lines [][]geo.Coordinate
		for _, shapeID := range st.routeShapes[id] {
			if coords := st.shape(shapeID); len(coords) > 0 {
				lines = append(lines, coords)
			}
		}
		if len(lines) == 0 {
			continue
		}
		feed.Routes.Add(domain.NewRoute(domain.Route{
			ID:       r.id,
			Name:     r.name,
			LongName: r.longName,
			Type:     r.routeType,
			Color:    r.color,
			Lines:    lines,
		}))
	}

	for _, id := range st.stopOrder {
		info := st.stops[id]
		if info.parent != "" {
			if _, ok := st.stops[info.parent]; ok {
				continue
			}
		}

		stop := info.stop
		types := make(map[domain.RouteType]bool)
		for routeID := range st.stopRoutes[id] {
			r, ok := st.routes[routeID]
			if !ok {
				continue
			}
			stop.Lines = append(stop.Lines, domain.StopLine{Type: r.routeType, Name: r.name})
			types[r.routeType] = true
		}
		sort.Slice(stop.Lines, func(i, j int) bool {
			if stop.Lines[i].Type != stop.Lines[j].Type {
				return stop.Lines[i].Type < stop.Lines[j].Type
			}
			return stop.Lines[i].Name < stop.Lines[j].Name
		})
		for _, t := range mainTypePriority {
			if types[t] {
				stop.MainType = t
				break
			}
		}
		feed.Stops = append(feed.Stops, stop)
	}
	return feed
}

// readCSV calls row for every record of file with a lookup by column name and
// returns the number of records.
func readCSV(file *zip.File, row func(field func(string) string)) (int, error) {
	rc, err := file.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return 0, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	idx := makeIndex(header)

	n := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		row(func(name string) string {
			return getField(record, idx, name)
		})
		n++
	}
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}

func parseColor(s string) (color.RGBA, bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{}, false
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, true
}
