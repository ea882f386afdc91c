package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ImageError classifies an image fetch failure with the HTTP status the
// proxy should answer with.
type ImageError struct {
	Status  int
	Message string
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image fetch: %s (status %d)", e.Message, e.Status)
}

// ImageService fetches remote question images server-side and re-emits them
// as data URIs, so question content renders without the browser talking to
// arbitrary hosts. Fetch failures map onto a fixed status taxonomy:
//
//	400 malformed URL or non-http(s) scheme
//	401/403/404 passed through from the upstream host
//	413 image larger than the configured cap
//	415 upstream content is not an image
//	502 upstream 5xx or network failure
//	504 fetch deadline exceeded
type ImageService struct {
	http     *http.Client
	maxBytes int64
	log      zerolog.Logger
}

// NewImageService creates an ImageService. timeout bounds each fetch;
// maxBytes caps the decoded payload size.
func NewImageService(timeout time.Duration, maxBytes int64, log zerolog.Logger) *ImageService {
	return &ImageService{
		http:     &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		log:      log.With().Str("component", "image_service").Logger(),
	}
}

// FetchAsDataURI retrieves the image at rawURL and returns it as a
// data:<mime>;base64,<payload> URI.
func (s *ImageService) FetchAsDataURI(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "", &ImageError{Status: http.StatusBadRequest, Message: "invalid image url"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", &ImageError{Status: http.StatusBadRequest, Message: "unsupported url scheme"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", &ImageError{Status: http.StatusBadRequest, Message: "invalid image url"}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &ImageError{Status: http.StatusGatewayTimeout, Message: "image fetch timed out"}
		}
		s.log.Warn().Err(err).Str("url", rawURL).Msg("Image fetch failed")
		return "", &ImageError{Status: http.StatusBadGateway, Message: "failed to reach image host"}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return "", &ImageError{Status: resp.StatusCode, Message: fmt.Sprintf("image host answered %d", resp.StatusCode)}
	default:
		return "", &ImageError{Status: http.StatusBadGateway, Message: fmt.Sprintf("image host answered %d", resp.StatusCode)}
	}

	mime := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if !strings.HasPrefix(mime, "image/") {
		return "", &ImageError{Status: http.StatusUnsupportedMediaType, Message: "url does not serve an image"}
	}

	// Read one byte past the cap to distinguish "exactly at the limit"
	// from "too large".
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return "", &ImageError{Status: http.StatusGatewayTimeout, Message: "image fetch timed out"}
		}
		return "", &ImageError{Status: http.StatusBadGateway, Message: "failed to read image body"}
	}
	if int64(len(body)) > s.maxBytes {
		return "", &ImageError{Status: http.StatusRequestEntityTooLarge, Message: "image exceeds size limit"}
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
