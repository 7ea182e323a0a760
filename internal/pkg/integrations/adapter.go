package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

// Adapter speaks one platform's API. Unsupported operations return a
// validation error.
type Adapter interface {
	ListFolders(ctx context.Context, s *Session, parent string) ([]Folder, error)
	ListProducts(ctx context.Context, s *Session, limit int) ([]Product, error)
	Publish(ctx context.Context, s *Session, target string, f File) (*Published, error)
}

type unsupported struct{}

func (unsupported) ListFolders(_ context.Context, s *Session, _ string) ([]Folder, error) {
	return nil, apperror.Newf(apperror.KindValidation, "%s has no folders", s.Platform)
}

func (unsupported) ListProducts(_ context.Context, s *Session, _ int) ([]Product, error) {
	return nil, apperror.Newf(apperror.KindValidation, "%s has no products", s.Platform)
}

func (unsupported) Publish(_ context.Context, s *Session, _ string, _ File) (*Published, error) {
	return nil, apperror.Newf(apperror.KindValidation, "%s does not accept uploads", s.Platform)
}

// DefaultAdapters returns the production adapters keyed by platform slug.
func DefaultAdapters() map[string]Adapter {
	return map[string]Adapter{
		"google_drive": &GoogleDrive{BaseURL: "https://www.googleapis.com"},
		"dropbox":      &Dropbox{APIURL: "https://api.dropboxapi.com", ContentURL: "https://content.dropboxapi.com"},
		"figma":        &Figma{BaseURL: "https://api.figma.com"},
		"shopify":      &Shopify{APIVersion: "2024-07"},
	}
}

const maxErrorBody = 4096

// do sends req and decodes a JSON body into out. A 401 means the grant was
// revoked upstream.
func do(s *Session, req *http.Request, out interface{}) error {
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return apperror.Categorize(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(s.Platform, resp.StatusCode, body)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Wrap(apperror.KindNetwork, err, fmt.Sprintf("%s returned an unreadable response", s.Platform))
	}
	return nil
}

func statusError(platform string, status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return apperror.Newf(apperror.KindIntegrationDisconnected, "%s rejected the stored credentials, please reconnect", platform)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return apperror.FromHTTPStatus(status, fmt.Sprintf("%s: %s", platform, msg))
}

func jsonRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
