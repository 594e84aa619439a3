package source

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// HTTPConfig configures the HTTP graph source
type HTTPConfig struct {
	BaseURL           string
	Token             string
	PageSize          int
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// HTTPSource reads profiles from a JSON REST API:
//
//	GET {base}/people/{id}
//	GET {base}/people/{id}/followees?offset=N&limit=L
type HTTPSource struct {
	base      string
	token     string
	pageSize  int
	collector *colly.Collector
	limiter   *rate.Limiter
}

type followeesPage struct {
	Data   []People `json:"data"`
	Paging struct {
		IsEnd bool `json:"is_end"`
	} `json:"paging"`
}

// NewHTTPSource creates a source backed by a colly collector
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", cfg.BaseURL)
	}

	opts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	if cfg.RequestTimeout > 0 {
		collector.SetRequestTimeout(cfg.RequestTimeout)
	}

	s := &HTTPSource{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		pageSize:  cfg.PageSize,
		collector: collector,
	}
	if s.pageSize <= 0 {
		s.pageSize = 20
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return s, nil
}

// LoadToken reads a bearer token from path
func LoadToken(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *HTTPSource) Fetch(ctx context.Context, id string) (People, error) {
	var p People
	if err := s.get(ctx, s.base+"/people/"+url.PathEscape(id), &p); err != nil {
		return People{}, err
	}
	return p, nil
}

func (s *HTTPSource) Followees(ctx context.Context, id string) iter.Seq2[People, error] {
	return func(yield func(People, error) bool) {
		for offset := 0; ; offset += s.pageSize {
			target := fmt.Sprintf("%s/people/%s/followees?offset=%d&limit=%d",
				s.base, url.PathEscape(id), offset, s.pageSize)

			var page followeesPage
			if err := s.get(ctx, target, &page); err != nil {
				yield(People{}, err)
				return
			}

			for _, p := range page.Data {
				if !yield(p, nil) {
					return
				}
			}

			if page.Paging.IsEnd || len(page.Data) == 0 {
				return
			}
		}
	}
}

// get performs one rate-limited request and decodes the JSON body into out
func (s *HTTPSource) get(ctx context.Context, target string, out any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c := s.collector.Clone()

	var (
		body    []byte
		status  int
		failure error
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		if s.token != "" {
			r.Headers.Set("Authorization", "Bearer "+s.token)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, err error) {
		failure = err
		if r != nil {
			status = r.StatusCode
		}
	})

	visitErr := c.Visit(target)
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if failure != nil {
		return fmt.Errorf("request %s failed (status %d): %w", target, status, failure)
	}
	if visitErr != nil {
		return fmt.Errorf("request %s failed: %w", target, visitErr)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", target, err)
	}

	logrus.Debugf("Fetched %s (status=%d)", target, status)
	return nil
}
