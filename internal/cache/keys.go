package cache

import (
	"fmt"
	"time"
)

const (
	PatternGeodata = "geodata:*"
	PatternStops   = "stops:*"

	dateLayout = "2006-01-02"
)

// Upstream datasets are published once a day, so their cache keys carry the
// date they were fetched for.

func KeyGeodata(date time.Time) string {
	return fmt.Sprintf("geodata:%s", date.Format(dateLayout))
}

func KeyStops(date time.Time) string {
	return fmt.Sprintf("stops:%s", date.Format(dateLayout))
}
