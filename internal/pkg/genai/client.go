// Package genai talks to the Gemini API for image, video and background
// removal generation and categorizes every failure before returning it.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const backgroundRemovalPrompt = "Remove the background of this product photo completely. Keep the product unchanged and return it on a transparent background."

// Image is one generated picture.
type Image struct {
	MimeType string
	Data     []byte
}

// Video is a finished video clip.
type Video struct {
	MimeType string
	Data     []byte
}

// ImageRequest asks for count images for prompt, optionally based on a source photo.
type ImageRequest struct {
	Prompt      string
	Source      []byte
	SourceMime  string
	Count       int
	AspectRatio string
}

type VideoRequest struct {
	Prompt      string
	Source      []byte
	SourceMime  string
	AspectRatio string
}

// Provider is the generative AI collaborator.
type Provider interface {
	GenerateImages(ctx context.Context, req ImageRequest) ([]Image, error)
	GenerateVideo(ctx context.Context, req VideoRequest) (*Video, error)
	RemoveBackground(ctx context.Context, source []byte, mime string) (*Image, error)
}

type Client struct {
	APIKey       string
	BaseURL      string
	ImageModel   string
	VideoModel   string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:       apiKey,
		BaseURL:      defaultBaseURL,
		ImageModel:   "gemini-2.5-flash-image",
		VideoModel:   "veo-3.0-generate-001",
		PollInterval: 5 * time.Second,
		HTTPClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

// NewClientFromEnv reads GEMINI_* settings.
func NewClientFromEnv() (*Client, error) {
	key := env.GetEnv("GEMINI_API_KEY", "")
	if key == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	c := NewClient(key)
	c.BaseURL = strings.TrimRight(env.GetEnv("GEMINI_BASE_URL", defaultBaseURL), "/")
	c.ImageModel = env.GetEnv("GEMINI_IMAGE_MODEL", c.ImageModel)
	c.VideoModel = env.GetEnv("GEMINI_VIDEO_MODEL", c.VideoModel)
	c.PollInterval = env.GetDuration("GEMINI_POLL_INTERVAL", c.PollInterval)
	return c, nil
}

func (c *Client) GenerateImages(ctx context.Context, req ImageRequest) ([]Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperror.New(apperror.KindValidation, "prompt is required")
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}

	prompt := req.Prompt
	if req.AspectRatio != "" {
		prompt = fmt.Sprintf("%s\nAspect ratio: %s", prompt, req.AspectRatio)
	}
	parts := []Part{{Text: prompt}}
	if len(req.Source) > 0 {
		parts = append(parts, inline(req.Source, req.SourceMime))
	}

	// one call per image keeps each candidate independent
	var images []Image
	for i := 0; i < count; i++ {
		resp, err := c.generateContent(ctx, c.ImageModel, Request{
			Contents:         []Content{{Role: "user", Parts: parts}},
			GenerationConfig: &GenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
		})
		if err != nil {
			return nil, err
		}
		imgs, err := extractImages(resp)
		if err != nil {
			return nil, err
		}
		images = append(images, imgs...)
	}
	return images, nil
}

func (c *Client) RemoveBackground(ctx context.Context, source []byte, mime string) (*Image, error) {
	if len(source) == 0 {
		return nil, apperror.New(apperror.KindValidation, "source image is required")
	}
	resp, err := c.generateContent(ctx, c.ImageModel, Request{
		Contents:         []Content{{Role: "user", Parts: []Part{{Text: backgroundRemovalPrompt}, inline(source, mime)}}},
		GenerationConfig: &GenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	})
	if err != nil {
		return nil, err
	}
	imgs, err := extractImages(resp)
	if err != nil {
		return nil, err
	}
	return &imgs[0], nil
}

// GenerateVideo starts a long-running operation and polls it until done or
// ctx ends. Callers race it against their own deadline.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (*Video, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperror.New(apperror.KindValidation, "prompt is required")
	}
	instance := videoInstance{Prompt: req.Prompt}
	if len(req.Source) > 0 {
		instance.Image = &videoImage{BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.Source), MimeType: mimeOr(req.SourceMime)}
	}
	body := videoRequest{Instances: []videoInstance{instance}}
	if req.AspectRatio != "" {
		body.Parameters = map[string]string{"aspectRatio": req.AspectRatio}
	}

	var op operation
	if err := c.post(ctx, fmt.Sprintf("%s/models/%s:predictLongRunning", c.BaseURL, c.VideoModel), body, &op); err != nil {
		return nil, err
	}
	log.Infof("[GenAI] video operation %s started", op.Name)

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, apperror.Categorize(ctx.Err())
		case <-ticker.C:
		}
		if err := c.get(ctx, fmt.Sprintf("%s/%s", c.BaseURL, op.Name), &op); err != nil {
			return nil, err
		}
	}

	if op.Error != nil {
		return nil, categorizeStatus(op.Error.Code, op.Error.Message)
	}
	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		if op.Response != nil && len(op.Response.GenerateVideoResponse.RaiMediaFilteredReasons) > 0 {
			return nil, apperror.New(apperror.KindContentPolicyBlocked, op.Response.GenerateVideoResponse.RaiMediaFilteredReasons[0])
		}
		return nil, apperror.New(apperror.KindUnknown, "provider returned no video")
	}

	data, err := c.download(ctx, op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI)
	if err != nil {
		return nil, err
	}
	return &Video{MimeType: "video/mp4", Data: data}, nil
}

func (c *Client) generateContent(ctx context.Context, model string, req Request) (*Response, error) {
	var resp Response
	if err := c.post(ctx, fmt.Sprintf("%s/models/%s:generateContent", c.BaseURL, model), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("x-goog-api-key", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return apperror.Categorize(err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.Categorize(err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		msg := strings.TrimSpace(string(respBytes))
		if json.Unmarshal(respBytes, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return categorizeStatus(resp.StatusCode, msg)
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return apperror.Wrap(apperror.KindUnknown, err, "failed to unmarshal provider response")
	}
	return nil
}

func (c *Client) download(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindUnknown, err, "invalid video uri")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, categorizeStatus(resp.StatusCode, "video download failed")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	return data, nil
}

// categorizeStatus maps provider rate limiting to a retryable network error.
func categorizeStatus(status int, message string) error {
	if status == http.StatusTooManyRequests {
		return apperror.New(apperror.KindNetwork, "generation provider is busy, try again shortly")
	}
	if status == http.StatusBadRequest && isPolicyMessage(message) {
		return apperror.New(apperror.KindContentPolicyBlocked, "")
	}
	return apperror.FromHTTPStatus(status, message)
}

func isPolicyMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "safety") || strings.Contains(m, "policy") || strings.Contains(m, "blocked")
}

// FinishReasonError maps a candidate finish reason onto the taxonomy.
func FinishReasonError(reason string) error {
	switch strings.ToUpper(reason) {
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII", "IMAGE_SAFETY":
		return apperror.Newf(apperror.KindContentPolicyBlocked, "generation blocked by provider (%s)", strings.ToLower(reason))
	default:
		return nil
	}
}

func extractImages(resp *Response) ([]Image, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, apperror.Newf(apperror.KindContentPolicyBlocked, "prompt blocked by provider (%s)", strings.ToLower(resp.PromptFeedback.BlockReason))
	}
	var images []Image
	var blocked error
	for _, cand := range resp.Candidates {
		if err := FinishReasonError(cand.FinishReason); err != nil {
			blocked = err
			continue
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindUnknown, err, "provider returned invalid image data")
			}
			images = append(images, Image{MimeType: p.InlineData.MimeType, Data: data})
		}
	}
	if len(images) == 0 {
		if blocked != nil {
			return nil, blocked
		}
		return nil, apperror.New(apperror.KindUnknown, "provider returned no image")
	}
	return images, nil
}

func inline(data []byte, mime string) Part {
	return Part{InlineData: &InlineData{MimeType: mimeOr(mime), Data: base64.StdEncoding.EncodeToString(data)}}
}

func mimeOr(mime string) string {
	if mime == "" {
		return "image/png"
	}
	return mime
}
