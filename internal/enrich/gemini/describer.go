package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/shpitdev/sf-graffiti-search/internal/enrich"
	"github.com/shpitdev/sf-graffiti-search/pkg/httpapi"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	"google.golang.org/genai"
)

const (
	DefaultModel         = "gemini-2.5-flash"
	DefaultMaxImageBytes = 20 << 20
)

// DefaultPrompt asks for a searchable title and a description of the graffiti alone.
const DefaultPrompt = "You are creating searchable metadata for a graffiti photo database. Focus ONLY on describing the graffiti itself, not the surrounding area or environment.\n\n" +
	"TITLE: [A short, descriptive 5-10 word title about the graffiti]\n\n" +
	"DESCRIPTION: [Write 3-4 natural sentences describing ONLY the graffiti artwork. If there is readable text or words that are part of the graffiti, mention what it says. Describe the main colors of the graffiti, the artistic style, what surface the graffiti is painted on, and notable features of the graffiti. Ignore any signs, text, or objects that are NOT part of the graffiti itself. Only describe the actual graffiti art.]"

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	// Prompt replaces DefaultPrompt when set.
	Prompt string

	// HTTPClient downloads the images. Defaults to http.DefaultClient.
	HTTPClient    *http.Client
	MaxImageBytes int64
}

// Describer sends each image with a fixed instruction to Gemini and parses the answer.
type Describer struct {
	client        *genai.Client
	model         string
	prompt        string
	http          *http.Client
	maxImageBytes int64
}

var _ enrich.Describer = (*Describer)(nil)

func New(ctx context.Context, cfg Config) (*Describer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}

	d := &Describer{
		client:        client,
		model:         model,
		prompt:        strings.TrimSpace(cfg.Prompt),
		http:          cfg.HTTPClient,
		maxImageBytes: cfg.MaxImageBytes,
	}
	if d.prompt == "" {
		d.prompt = DefaultPrompt
	}
	if d.http == nil {
		d.http = http.DefaultClient
	}
	if d.maxImageBytes <= 0 {
		d.maxImageBytes = DefaultMaxImageBytes
	}
	return d, nil
}

func (d *Describer) Model() string { return d.model }

func (d *Describer) Describe(ctx context.Context, mediaURL string) (enrich.Description, error) {
	data, mimeType, err := d.fetchImage(ctx, mediaURL)
	if err != nil {
		return enrich.Description{}, err
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(d.prompt),
	}
	resp, err := d.client.Models.GenerateContent(
		ctx,
		d.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{CandidateCount: 1},
	)
	if err != nil {
		return enrich.Description{}, classifyErr(err)
	}
	return enrich.ParseDescription(resp.Text())
}

func (d *Describer) fetchImage(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("image request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, "", classifyErr(fmt.Errorf("download image: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, d.maxImageBytes+1))
	if err != nil {
		return nil, "", classifyErr(fmt.Errorf("read image: %w", err))
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", httpapi.Classify(httpapi.NewHTTPError("image.download", resp, nil))
	}
	if int64(len(b)) > d.maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", d.maxImageBytes)
	}
	if len(b) == 0 {
		return nil, "", errors.New("image is empty")
	}
	return b, imageMIMEType(resp.Header.Get("Content-Type"), b), nil
}

func imageMIMEType(header string, b []byte) string {
	ct := strings.TrimSpace(strings.ToLower(header))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	if sniffed := http.DetectContentType(b); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return "image/jpeg"
}

func classifyErr(err error) error {
	// Wrap transient failures so the scheduler will retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return &core.LimitedTransientError{Err: err, ExtraRetries: httpapi.ThrottleRetries}
		}
		if apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
