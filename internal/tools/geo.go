package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Facility is one medical facility returned by the Overpass query.
type Facility struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	DistanceKm float64 `json:"distance_km"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
}

// GeoClient wraps the Nominatim and Overpass endpoints.
type GeoClient struct {
	nominatimURL string
	overpassURL  string
	userAgent    string
	httpClient   *http.Client
}

// NewGeoClient creates a geo client against the given endpoints.
func NewGeoClient(nominatimURL, overpassURL, userAgent string) *GeoClient {
	return &GeoClient{
		nominatimURL: nominatimURL,
		overpassURL:  overpassURL,
		userAgent:    userAgent,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// ReverseGeocode converts coordinates to a human-readable address. On any
// failure it falls back to a coordinate string rather than erroring; the
// address is context, not a required datum.
func (g *GeoClient) ReverseGeocode(ctx context.Context, lat, lon float64) string {
	fallback := fmt.Sprintf("Location: %.4f, %.4f", lat, lon)

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lon", fmt.Sprintf("%f", lon))
	params.Set("format", "json")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.nominatimURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return fallback
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallback
	}

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.DisplayName == "" {
		return fallback
	}
	return body.DisplayName
}

// CountryFromAddress extracts the trailing country component of a Nominatim
// display name, or "" when the address has no comma-separated parts.
func CountryFromAddress(address string) string {
	parts := strings.Split(address, ", ")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[len(parts)-1])
}

// NearbyFacilities queries Overpass for hospitals, clinics, doctors and
// pharmacies around the given point, closest first, at most three.
func (g *GeoClient) NearbyFacilities(ctx context.Context, lat, lon float64, radiusKm int) ([]Facility, error) {
	query := fmt.Sprintf(`[out:json][timeout:25];
(
  node["amenity"~"^(hospital|clinic|doctors|pharmacy)$"](around:%d,%f,%f);
  way["amenity"~"^(hospital|clinic|doctors|pharmacy)$"](around:%d,%f,%f);
  relation["amenity"~"^(hospital|clinic|doctors|pharmacy)$"](around:%d,%f,%f);
);
out center meta;`,
		radiusKm*1000, lat, lon, radiusKm*1000, lat, lon, radiusKm*1000, lat, lon)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.overpassURL, strings.NewReader(query))
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("overpass returned status %d: %s", resp.StatusCode, string(body))
	}

	var body struct {
		Elements []struct {
			Type   string            `json:"type"`
			Lat    float64           `json:"lat"`
			Lon    float64           `json:"lon"`
			Center *struct{ Lat, Lon float64 } `json:"center"`
			Tags   map[string]string `json:"tags"`
		} `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	var facilities []Facility
	for _, el := range body.Elements {
		if el.Tags == nil {
			continue
		}
		fLat, fLon := el.Lat, el.Lon
		if el.Type != "node" {
			if el.Center == nil {
				continue
			}
			fLat, fLon = el.Center.Lat, el.Center.Lon
		}
		name := el.Tags["name"]
		if name == "" {
			name = "Medical Facility"
		}
		facilities = append(facilities, Facility{
			Name:       name,
			Type:       el.Tags["amenity"],
			DistanceKm: math.Round(Haversine(lat, lon, fLat, fLon)*100) / 100,
			Latitude:   fLat,
			Longitude:  fLon,
		})
	}

	sort.Slice(facilities, func(i, j int) bool { return facilities[i].DistanceKm < facilities[j].DistanceKm })
	if len(facilities) > 3 {
		facilities = facilities[:3]
	}
	return facilities, nil
}

// Haversine returns the great-circle distance in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371

	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
