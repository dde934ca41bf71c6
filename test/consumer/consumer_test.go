package consumer

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/sf-graffiti-search/pkg/httpapi"
	"github.com/shpitdev/sf-graffiti-search/pkg/mockservices"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	localio "github.com/shpitdev/sf-graffiti-search/pkg/pipeline/io/local"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/redact"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/schema"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/worker"
)

type upper struct{}

func (upper) Process(_ context.Context, in string) (string, error) {
	return strings.ToUpper(strings.TrimSpace(in)), nil
}

func TestPublicPackagesCompile(t *testing.T) {
	t.Parallel()

	if _, err := schema.ParseStage("geocode"); err != nil {
		t.Fatalf("ParseStage failed: %v", err)
	}
	if got := redact.Secrets("GET https://api.test/v1?key=abc: timeout"); strings.Contains(got, "abc") {
		t.Fatalf("secret survived redaction: %q", got)
	}
	if _, err := httpapi.ParseBaseURL("nominatim.openstreetmap.org", "nominatim"); err != nil {
		t.Fatalf("ParseBaseURL failed: %v", err)
	}

	srv := mockservices.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	if !strings.HasSuffix(mockservices.ImageURL(ts.URL, "a"), "/images/a.png") {
		t.Fatalf("unexpected image url")
	}

	var p core.Processor[string, string] = upper{}
	b := worker.NewBatch[string, string](worker.Options{BatchSize: 2})
	out, err := b.Run(context.Background(), []string{" tag ", "mural"}, p.Process)
	if err != nil {
		t.Fatalf("Batch.Run failed: %v", err)
	}
	if len(out) != 2 || out[0].Output != "TAG" || out[1].Output != "MURAL" {
		t.Fatalf("unexpected output: %#v", out)
	}

	paced := worker.NewPaced[string, string](worker.Options{MinInterval: 1})
	fn := core.ProcessFunc[string, string](upper{}.Process)
	if _, err := paced.Run(context.Background(), []string{"x"}, fn.Process); err != nil {
		t.Fatalf("Paced.Run failed: %v", err)
	}

	tbl, err := localio.ReadCSV(strings.NewReader("noid,cdn_url\n1,https://cdn.test/1.jpg\n"))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if tbl.Index("CDN_URL") != 1 {
		t.Fatalf("header lookup failed: %#v", tbl.Header)
	}
	if _, err := localio.ReadFile(filepath.Join(t.TempDir(), "missing.xlsx")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
