package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shpitdev/sf-graffiti-search/internal/enrich"
	"github.com/shpitdev/sf-graffiti-search/pkg/httpapi"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "SF-Graffiti-Search/1.0"
	DefaultLocality  = ", San Francisco, CA"
)

type Config struct {
	BaseURL   string
	UserAgent string
	// Locality is appended to every address before it is sent.
	Locality   string
	HTTPClient *http.Client
}

// Geocoder resolves addresses with the Nominatim search API.
type Geocoder struct {
	base      *url.URL
	userAgent string
	locality  string
	http      *http.Client
}

var _ enrich.Geocoder = (*Geocoder)(nil)

func New(cfg Config) (*Geocoder, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := httpapi.ParseBaseURL(raw, "nominatim")
	if err != nil {
		return nil, err
	}
	g := &Geocoder{
		base:      base,
		userAgent: strings.TrimSpace(cfg.UserAgent),
		locality:  cfg.Locality,
		http:      cfg.HTTPClient,
	}
	if g.userAgent == "" {
		g.userAgent = DefaultUserAgent
	}
	if g.http == nil {
		g.http = http.DefaultClient
	}
	return g, nil
}

// Query is the search text sent for address.
func (g *Geocoder) Query(address string) string {
	return strings.TrimSpace(address) + g.locality
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *Geocoder) Geocode(ctx context.Context, address string) (enrich.Coordinates, bool, error) {
	u := httpapi.Resolve(g.base, "search")
	q := url.Values{}
	q.Set("q", g.Query(address))
	q.Set("format", "json")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return enrich.Coordinates{}, false, err
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return enrich.Coordinates{}, false, fmt.Errorf("nominatim search: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return enrich.Coordinates{}, false, fmt.Errorf("read nominatim response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return enrich.Coordinates{}, false, httpapi.Classify(httpapi.NewHTTPError("nominatim.search", resp, b))
	}

	var results []searchResult
	if err := json.Unmarshal(b, &results); err != nil {
		return enrich.Coordinates{}, false, fmt.Errorf("parse nominatim response: %w", err)
	}
	if len(results) == 0 {
		return enrich.Coordinates{}, false, nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(results[0].Lat), 64)
	if err != nil {
		return enrich.Coordinates{}, false, fmt.Errorf("parse latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(results[0].Lon), 64)
	if err != nil {
		return enrich.Coordinates{}, false, fmt.Errorf("parse longitude %q: %w", results[0].Lon, err)
	}
	return enrich.Coordinates{Latitude: lat, Longitude: lon}, true, nil
}
