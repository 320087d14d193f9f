package httpsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/torosent/mechafeed/internal/record"
	"github.com/torosent/mechafeed/internal/source"
	"github.com/torosent/mechafeed/internal/tracing"
)

const (
	// maxPayloadBytes bounds a single record or count response.
	maxPayloadBytes = 4 << 20
	// maxErrorBody bounds the body snippet kept in an HTTPError.
	maxErrorBody = 512
)

// Options configures a Source.
type Options struct {
	BaseURL    string
	CountPath  string // default "/count"
	RecordPath string // fmt template with one %d for the position, default "/records/%d"
	CountField string // gjson path of the count, default "total"
	Headers    map[string]string
	Token      string
	Timeout    time.Duration
	Propagate  bool // inject W3C trace context
	Client     *http.Client
}

// Source is a source.Source backed by a REST JSON service.
type Source struct {
	base       *url.URL
	countPath  string
	recordPath string
	countField string
	headers    http.Header
	propagate  bool
	client     *http.Client
}

var _ source.Source = (*Source)(nil)

// New validates opts and returns a Source. No request is made.
func New(opts Options) (*Source, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", opts.BaseURL)
	}
	if base.Host == "" {
		return nil, errors.New("base url has no host")
	}

	s := &Source{
		base:       base,
		countPath:  defaultString(opts.CountPath, "/count"),
		recordPath: defaultString(opts.RecordPath, "/records/%d"),
		countField: defaultString(opts.CountField, "total"),
		propagate:  opts.Propagate,
		client:     opts.Client,
	}
	if strings.Count(s.recordPath, "%d") != 1 {
		return nil, fmt.Errorf("record path %q must contain exactly one %%d", s.recordPath)
	}

	s.headers, err = canonicalHeaders(opts.Headers, opts.Token)
	if err != nil {
		return nil, err
	}
	if s.client == nil {
		s.client = NewClient(opts.Timeout)
	}
	return s, nil
}

func (s *Source) TotalCount(ctx context.Context) (uint64, error) {
	body, err := s.get(ctx, s.countPath)
	if err != nil {
		return 0, err
	}
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("count response is not valid JSON")
	}
	res := gjson.GetBytes(body, s.countField)
	if !res.Exists() {
		return 0, fmt.Errorf("count response has no %q field", s.countField)
	}
	if res.Type != gjson.Number {
		return 0, fmt.Errorf("count field %q is not a number: %s", s.countField, res.Raw)
	}
	if res.Num < 0 || res.Raw != fmt.Sprint(res.Uint()) {
		return 0, fmt.Errorf("count field %q is not a non-negative integer: %s", s.countField, res.Raw)
	}
	return res.Uint(), nil
}

func (s *Source) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	body, err := s.get(ctx, fmt.Sprintf(s.recordPath, position))
	if err != nil {
		var herr *source.HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
			return record.RawData{}, fmt.Errorf("position %d: %w", position, source.ErrPositionOutOfRange)
		}
		return record.RawData{}, err
	}
	return record.RawData{Position: position, Payload: body}, nil
}

func (s *Source) get(ctx context.Context, path string) ([]byte, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	target := s.base.JoinPath(ref.Path)
	target.RawQuery = ref.RawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header = s.headers.Clone()
	if s.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &source.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxPayloadBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", target.Path, maxPayloadBytes)
	}
	return body, nil
}

func defaultString(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
