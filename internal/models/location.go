package models

import (
	"fmt"

	"github.com/golang/geo/s2"
)

const earthRadiusMeters = 6371000.0

type Location struct {
	Lat float64 `json:"lat" parquet:"name=lat,type=DOUBLE"`
	Lon float64 `json:"lon" parquet:"name=lon,type=DOUBLE"`
}

// Offset returns l moved by the given degrees.
func (l Location) Offset(dLat, dLon float64) Location {
	return Location{Lat: l.Lat + dLat, Lon: l.Lon + dLon}
}

// DistanceMeters is the great-circle distance between two locations.
func (l Location) DistanceMeters(other Location) float64 {
	p1 := s2.LatLngFromDegrees(l.Lat, l.Lon)
	p2 := s2.LatLngFromDegrees(other.Lat, other.Lon)
	return p1.Distance(p2).Radians() * earthRadiusMeters
}

// Scan reads a PostGIS WKT point.
func (l *Location) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		_, err := fmt.Sscanf(string(v), "POINT(%f %f)", &l.Lon, &l.Lat)
		return err
	case string:
		_, err := fmt.Sscanf(v, "POINT(%f %f)", &l.Lon, &l.Lat)
		return err
	default:
		return fmt.Errorf("unsupported type for Location: %T", value)
	}
}

// WKT renders l as a WKT point, longitude first.
func (l Location) WKT() string {
	return fmt.Sprintf("POINT(%f %f)", l.Lon, l.Lat)
}
