package tools

import (
	"context"
	"fmt"
)

// FindFacilitiesName is the identifier the emergency path also invokes
// directly, outside the reasoning loop.
const FindFacilitiesName = "find_nearby_hospitals"

const defaultRadiusKm = 5

// FacilityTool finds nearby hospitals and medical facilities from
// coordinates. Pure read, safe to re-invoke.
type FacilityTool struct {
	geo *GeoClient
}

// NewFacilityTool creates the facility lookup tool.
func NewFacilityTool(geo *GeoClient) *FacilityTool {
	return &FacilityTool{geo: geo}
}

func (t *FacilityTool) Spec() Spec {
	return Spec{
		Name:        FindFacilitiesName,
		Description: "Find nearby hospitals and medical facilities using location coordinates. Returns a list of facilities with names, types, distances and coordinates.",
		Parameters: objectSchema(map[string]interface{}{
			"latitude":  map[string]interface{}{"type": "number", "description": "User's latitude coordinate"},
			"longitude": map[string]interface{}{"type": "number", "description": "User's longitude coordinate"},
			"radius_km": map[string]interface{}{"type": "integer", "description": "Search radius in kilometers", "default": defaultRadiusKm},
		}, "latitude", "longitude"),
	}
}

func (t *FacilityTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	lat, okLat := numberArg(args, "latitude")
	lon, okLon := numberArg(args, "longitude")
	if !okLat || !okLon {
		return nil, fmt.Errorf("latitude and longitude are required")
	}
	radius := intArg(args, "radius_km", defaultRadiusKm)

	address := t.geo.ReverseGeocode(ctx, lat, lon)
	facilities, err := t.geo.NearbyFacilities(ctx, lat, lon, radius)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"location":         address,
		"search_radius_km": radius,
		"facilities_found": len(facilities),
		"facilities":       facilities,
	}, nil
}
