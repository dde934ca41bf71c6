package mockservices

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	ServiceGemini    = "gemini"
	ServiceImages    = "images"
	ServiceNominatim = "nominatim"
)

// pngMagic prefixes every served image so content sniffing sees a PNG.
var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Call records a request made to the mock services.
type Call struct {
	Service string
	Method  string
	Path    string
	// Subject is the image name (images, gemini) or the search query (nominatim).
	Subject string
	Start   time.Time
	End     time.Time
}

type coords struct {
	lat string
	lon string
}

// Server fakes the three external collaborators of the enricher on one listener: an image
// host, the Gemini generateContent endpoint and the Nominatim search endpoint.
type Server struct {
	mu    sync.Mutex
	calls []Call

	expectedAPIKey string
	latency        time.Duration

	descriptions  map[string]string
	describeFails map[string]int
	imageFails    map[string]int
	geocodes      map[string]coords
	geocodeFails  map[string]int

	inFlight    map[string]int
	maxInFlight map[string]int
}

func New() *Server {
	return &Server{
		descriptions:  make(map[string]string),
		describeFails: make(map[string]int),
		imageFails:    make(map[string]int),
		geocodes:      make(map[string]coords),
		geocodeFails:  make(map[string]int),
		inFlight:      make(map[string]int),
		maxInFlight:   make(map[string]int),
	}
}

// RequireAPIKey makes the Gemini endpoint reject requests without this x-goog-api-key.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedAPIKey = strings.TrimSpace(key)
}

// SetLatency delays every Gemini and Nominatim response.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetDescription sets the raw model text returned for the named image.
func (s *Server) SetDescription(image, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptions[image] = text
}

// FailDescribe makes generateContent answer status for the named image.
func (s *Server) FailDescribe(image string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.describeFails[image] = status
}

// FailImage makes the image host answer status for the named image.
func (s *Server) FailImage(image string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageFails[image] = status
}

// SetGeocode registers a match for the exact search query q.
func (s *Server) SetGeocode(q string, lat, lon float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geocodes[q] = coords{
		lat: fmt.Sprintf("%.7f", lat),
		lon: fmt.Sprintf("%.7f", lon),
	}
}

// FailGeocode makes the search endpoint answer status for the exact query q.
func (s *Server) FailGeocode(q string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geocodeFails[q] = status
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns the calls made to one service, in completion order.
func (s *Server) CallsTo(service string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Service == service {
			out = append(out, c)
		}
	}
	return out
}

// MaxInFlight reports the highest number of concurrent requests a service has seen.
func (s *Server) MaxInFlight(service string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight[service]
}

// ImageURL returns the URL under which the server hosts the named image.
func ImageURL(baseURL, image string) string {
	return strings.TrimRight(baseURL, "/") + "/images/" + image + ".png"
}

// Handler returns an http.Handler that serves all mock services.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/images/", s.handleImage)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/", s.handleGemini)
	return mux
}

func (s *Server) begin(service string) (time.Time, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[service]++
	if s.inFlight[service] > s.maxInFlight[service] {
		s.maxInFlight[service] = s.inFlight[service]
	}
	return time.Now(), s.latency
}

func (s *Server) end(service string, r *http.Request, subject string, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[service]--
	s.calls = append(s.calls, Call{
		Service: service,
		Method:  r.Method,
		Path:    r.URL.Path,
		Subject: subject,
		Start:   start,
		End:     time.Now(),
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/images/"), ".png")
	start, _ := s.begin(ServiceImages)
	defer s.end(ServiceImages, r, name, start)

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	status := s.imageFails[name]
	s.mu.Unlock()
	if status != 0 {
		http.Error(w, "image unavailable", status)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(append(append([]byte{}, pngMagic...), name...))
}

type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text       string `json:"text,omitempty"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     []byte `json:"data"`
			} `json:"inlineData,omitempty"`
		} `json:"parts"`
	} `json:"contents"`
}

func (s *Server) handleGemini(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.NotFound(w, r)
		return
	}
	start, latency := s.begin(ServiceGemini)
	image := ""
	defer func() {
		s.end(ServiceGemini, r, image, start)
	}()

	s.mu.Lock()
	expected := s.expectedAPIKey
	s.mu.Unlock()
	if expected != "" && r.Header.Get("x-goog-api-key") != expected {
		writeGeminiError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "API key not valid")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeGeminiError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "read body")
		return
	}
	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeGeminiError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json")
		return
	}
	hasPrompt := false
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.InlineData != nil && bytes.HasPrefix(p.InlineData.Data, pngMagic) {
				image = string(p.InlineData.Data[len(pngMagic):])
			}
			if strings.TrimSpace(p.Text) != "" {
				hasPrompt = true
			}
		}
	}
	if image == "" || !hasPrompt {
		writeGeminiError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "expected inline image and prompt")
		return
	}

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	status := s.describeFails[image]
	text, ok := s.descriptions[image]
	s.mu.Unlock()
	if status != 0 {
		writeGeminiError(w, status, http.StatusText(status), "mock failure")
		return
	}
	if !ok {
		text = "TITLE: Mock tag " + image + "\n\nDESCRIPTION: Mock description of " + image + "."
	}

	resp := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
			"finishReason": "STOP",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeGeminiError(w http.ResponseWriter, code int, status, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
			"status":  status,
		},
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	start, latency := s.begin(ServiceNominatim)
	defer s.end(ServiceNominatim, r, q, start)

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(r.Header.Get("User-Agent")) == "" {
		http.Error(w, "a User-Agent identifying the application is required", http.StatusForbidden)
		return
	}
	if r.URL.Query().Get("format") != "json" {
		http.Error(w, "format=json required", http.StatusBadRequest)
		return
	}
	if latency > 0 {
		time.Sleep(latency)
	}

	s.mu.Lock()
	status := s.geocodeFails[q]
	c, ok := s.geocodes[q]
	s.mu.Unlock()
	if status != 0 {
		http.Error(w, "mock failure", status)
		return
	}

	results := []map[string]string{}
	if ok {
		results = append(results, map[string]string{
			"lat":          c.lat,
			"lon":          c.lon,
			"display_name": q,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}
