package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/shpitdev/sf-graffiti-search/pkg/mockservices"
)

func main() {
	addr := defaultString("MOCK_SERVICES_ADDR", ":8090")
	apiKey := defaultString("MOCK_SERVICES_API_KEY", "")
	geocodes := defaultString("MOCK_SERVICES_GEOCODES", "")

	fs := flag.NewFlagSet("mock-services", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&apiKey, "api-key", apiKey, "Require this x-goog-api-key on generateContent (env: MOCK_SERVICES_API_KEY)")
	fs.StringVar(&geocodes, "geocodes", geocodes, "Semicolon-separated query=lat,lon matches for /search (env: MOCK_SERVICES_GEOCODES)")
	_ = fs.Parse(os.Args[1:])

	srv := mockservices.New()
	srv.RequireAPIKey(apiKey)
	for _, entry := range splitList(geocodes) {
		q, lat, lon, err := parseGeocode(entry)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "invalid geocode %q: %v\n", entry, err)
			os.Exit(2)
		}
		srv.SetGeocode(q, lat, lon)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-services listening on %s (images=/images/<name>.png gemini=*:generateContent nominatim=/search)\n", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func parseGeocode(entry string) (string, float64, float64, error) {
	q, coords, ok := strings.Cut(entry, "=")
	if !ok {
		return "", 0, 0, fmt.Errorf("want query=lat,lon")
	}
	latS, lonS, ok := strings.Cut(coords, ",")
	if !ok {
		return "", 0, 0, fmt.Errorf("want query=lat,lon")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return "", 0, 0, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return "", 0, 0, err
	}
	return strings.TrimSpace(q), lat, lon, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
