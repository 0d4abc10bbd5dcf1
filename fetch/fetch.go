package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/krau/picturetagger/metrics"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultMaxBytes = 8 * 1024 * 1024

	chunkSize    = 8192
	maxRedirects = 3
)

// Source names where the image bytes come from. Exactly one field must be set.
type Source struct {
	Upload io.ReadSeeker
	URL    string
	Base64 string
}

func (s Source) count() int {
	n := 0
	if s.Upload != nil {
		n++
	}
	if strings.TrimSpace(s.URL) != "" {
		n++
	}
	if strings.TrimSpace(s.Base64) != "" {
		n++
	}
	return n
}

type Options struct {
	Timeout   time.Duration // hard wall-clock limit for a remote fetch (default 5s)
	MaxBytes  int64         // remote body ceiling (default 8MiB)
	UserAgent string
}

type Fetcher struct {
	maxBytes int64
	client   *resty.Client
}

func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; picturetagger/1.0)"
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetDoNotParseResponse(true).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			if !allowedScheme(req.URL.Scheme) {
				return fmt.Errorf("redirect to %q: %w", req.URL.Scheme, ErrUnsupportedScheme)
			}
			return nil
		}))

	return &Fetcher{maxBytes: opts.MaxBytes, client: client}
}

func (f *Fetcher) MaxBytes() int64 {
	return f.maxBytes
}

// Fetch resolves src into image bytes. Validation happens before any I/O.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	switch src.count() {
	case 0:
		return nil, ErrMissingInput
	case 1:
	default:
		return nil, ErrAmbiguousInput
	}

	var (
		data []byte
		err  error
		kind string
	)
	switch {
	case src.Upload != nil:
		kind = "upload"
		data, err = readUpload(src.Upload)
	case strings.TrimSpace(src.URL) != "":
		kind = "url"
		data, err = f.download(ctx, strings.TrimSpace(src.URL))
	default:
		kind = "base64"
		data, err = DecodeBase64(src.Base64)
	}
	if err != nil {
		return nil, err
	}
	metrics.FetchedBytes.WithLabelValues(kind).Observe(float64(len(data)))
	return data, nil
}

// readUpload reads the whole stream and rewinds it for the caller.
func readUpload(r io.ReadSeeker) ([]byte, error) {
	data, err := io.ReadAll(r)
	if _, serr := r.Seek(0, io.SeekStart); err == nil && serr != nil {
		err = serr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %w", ErrEmptyInput, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: uploaded file is empty", ErrEmptyInput)
	}
	return data, nil
}

func allowedScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https":
		return true
	}
	return false
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !allowedScheme(u.Scheme) {
		return nil, ErrUnsupportedScheme
	}

	resp, err := f.client.R().SetContext(ctx).Get(u.String())
	if resp != nil && resp.RawBody() != nil {
		defer resp.RawBody().Close()
	}
	if err != nil {
		if errors.Is(err, ErrUnsupportedScheme) {
			return nil, ErrUnsupportedScheme
		}
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrDownload, resp.Status())
	}
	if cl := resp.RawResponse.ContentLength; cl > f.maxBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrPayloadTooLarge, cl, f.maxBytes)
	}

	return readBounded(resp.RawBody(), f.maxBytes)
}

// readBounded reads body chunk by chunk and fails as soon as the running
// total passes limit. The chunk that crosses the limit is not kept.
func readBounded(body io.Reader, limit int64) ([]byte, error) {
	var (
		buf   bytes.Buffer
		total int64
		chunk = make([]byte, chunkSize)
	)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, limit)
			}
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDownload, err)
		}
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: downloaded image is empty", ErrEmptyInput)
	}
	return buf.Bytes(), nil
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// DecodeBase64 decodes an inline payload. A leading data URL header and any
// whitespace are ignored; standard and URL-safe alphabets are accepted with
// or without padding.
func DecodeBase64(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		idx := strings.IndexByte(s, ',')
		if idx < 0 || !strings.HasSuffix(s[:idx], ";base64") {
			return nil, ErrInvalidEncoding
		}
		s = s[idx+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("%w: no data after header", ErrEmptyInput)
	}

	for _, enc := range base64Encodings {
		if data, err := enc.DecodeString(s); err == nil {
			if len(data) == 0 {
				return nil, ErrEmptyInput
			}
			return data, nil
		}
	}
	return nil, ErrInvalidEncoding
}
