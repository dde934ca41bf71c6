package mockservices_test

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shpitdev/sf-graffiti-search/pkg/mockservices"
)

func TestMockServices_ImageThenDescribe(t *testing.T) {
	t.Parallel()

	srv := mockservices.New()
	srv.SetDescription("door", "TITLE: Door tag\n\nDESCRIPTION: Black marker on a door.")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(mockservices.ImageURL(ts.URL, "door"))
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	img, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("content-type=%q", resp.Header.Get("Content-Type"))
	}

	body := `{"contents":[{"role":"user","parts":[{"inlineData":{"mimeType":"image/png","data":"` +
		base64.StdEncoding.EncodeToString(img) + `"}},{"text":"describe"}]}]}`
	resp, err = http.Post(ts.URL+"/v1beta/models/m:generateContent", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("generateContent: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := out.Candidates[0].Content.Parts[0].Text; !strings.HasPrefix(got, "TITLE: Door tag") {
		t.Fatalf("unexpected text %q", got)
	}

	calls := srv.CallsTo(mockservices.ServiceGemini)
	if len(calls) != 1 || calls[0].Subject != "door" {
		t.Fatalf("unexpected gemini calls: %#v", calls)
	}
}

func TestMockServices_SearchRequiresUserAgent(t *testing.T) {
	t.Parallel()

	srv := mockservices.New()
	srv.SetGeocode("1 Main, SF", 37.5, -122.5)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	u := ts.URL + "/search?format=json&limit=1&q=" + url.QueryEscape("1 Main, SF")
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	req.Header.Set("User-Agent", "")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d want=403", resp.StatusCode)
	}

	req.Header.Set("User-Agent", "test/1.0")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var results []map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0]["lat"] != "37.5000000" {
		t.Fatalf("unexpected results %#v", results)
	}
}
