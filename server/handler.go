package server

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krau/picturetagger/fetch"
	"github.com/krau/picturetagger/metrics"
	"github.com/krau/picturetagger/service"
)

// payload is the union of the JSON and form shapes accepted by the suggest route.
type payload struct {
	ImageURL    string `json:"image_url" form:"image_url"`
	ImageBase64 string `json:"image_base64" form:"image_base64"`
	Hints       any    `json:"hints"`
	Limit       any    `json:"limit"`
}

// rejections maps client-side failures to their response code.
var rejections = []struct {
	err  error
	code string
}{
	{fetch.ErrMissingInput, "missing_input"},
	{fetch.ErrAmbiguousInput, "ambiguous_input"},
	{fetch.ErrEmptyInput, "empty_input"},
	{fetch.ErrUnsupportedScheme, "unsupported_scheme"},
	{fetch.ErrPayloadTooLarge, "payload_too_large"},
	{fetch.ErrDownload, "download_failed"},
	{fetch.ErrInvalidEncoding, "invalid_encoding"},
	{service.ErrInvalidImage, "invalid_image"},
}

func (s *Server) SuggestHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes())

	src, hints, limit, err := readRequest(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(c, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("request body exceeds %d MB", s.cfg.MaxUploadMB))
			return
		}
		s.reject(c, http.StatusBadRequest, "invalid_request", "request body could not be parsed")
		return
	}
	if f, ok := src.Upload.(multipart.File); ok {
		defer f.Close()
	}

	result, err := s.tagger.Analyze(c.Request.Context(), src, hints, limit)
	if err != nil {
		for _, r := range rejections {
			if errors.Is(err, r.err) {
				s.reject(c, http.StatusBadRequest, r.code, r.err.Error())
				return
			}
		}
		slog.Error("Tag suggestion failed",
			slog.String("request_id", c.GetString("request_id")),
			slog.String("error", err.Error()),
		)
		s.reject(c, http.StatusInternalServerError, "internal_error", "failed to analyze image")
		return
	}

	metrics.AnalyzeTotal.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": result})
}

func (s *Server) reject(c *gin.Context, status int, code, message string) {
	metrics.AnalyzeTotal.WithLabelValues(code).Inc()
	c.JSON(status, gin.H{"status": "error", "code": code, "message": message})
}

func readRequest(c *gin.Context) (fetch.Source, []string, int, error) {
	var p payload
	if c.ContentType() == gin.MIMEJSON {
		if err := c.ShouldBindJSON(&p); err != nil {
			return fetch.Source{}, nil, 0, err
		}
		return fetch.Source{URL: p.ImageURL, Base64: p.ImageBase64}, normalizeHints(p.Hints), safeInt(p.Limit), nil
	}

	// FormFile parses the body first so that a size error surfaces here
	// instead of being swallowed by PostForm.
	var src fetch.Source
	fileHeader, err := c.FormFile("file")
	switch {
	case err == nil:
		file, err := fileHeader.Open()
		if err != nil {
			return fetch.Source{}, nil, 0, err
		}
		src.Upload = file
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		return fetch.Source{}, nil, 0, err
	}
	src.URL = c.PostForm("image_url")
	src.Base64 = c.PostForm("image_base64")

	var hints any
	if values := c.PostFormArray("hints"); len(values) > 1 {
		hints = values
	} else if len(values) == 1 {
		hints = values[0]
	}
	var limit any
	if v, ok := c.GetPostForm("limit"); ok {
		limit = v
	}
	return src, normalizeHints(hints), safeInt(limit), nil
}

// normalizeHints accepts a list, a comma separated string or a bracketed
// list literal such as `["a", "b"]`.
func normalizeHints(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		hints := make([]string, 0, len(v))
		for _, item := range v {
			hints = append(hints, fmt.Sprint(item))
		}
		return hints
	case string:
		s := strings.TrimSpace(v)
		bracketed := strings.HasPrefix(s, "[")
		if bracketed {
			s = strings.Trim(s, "[]")
		}
		var hints []string
		for _, seg := range strings.Split(s, ",") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			if bracketed {
				seg = strings.Trim(seg, `"'`)
			}
			hints = append(hints, seg)
		}
		return hints
	default:
		return []string{fmt.Sprint(v)}
	}
}

// safeInt returns a positive integer from raw, or 0 when raw is missing,
// malformed or not positive.
func safeInt(raw any) int {
	var n int
	switch v := raw.(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		n = parsed
	}
	return max(n, 0)
}

func (s *Server) HealthHandler(c *gin.Context) {
	vision := gin.H{"enabled": s.vision != nil}
	if s.vision != nil {
		vision["backend"] = s.cfg.Vision.Backend
		vision["model"] = s.vision.ModelID()
		vision["ready"] = s.vision.Ready()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": gin.H{
		"service":   s.cfg.AppName,
		"version":   s.cfg.AppVersion,
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"go":        runtime.Version(),
		"vision":    vision,
	}})
}
