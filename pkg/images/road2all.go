// Package images provides an OpenAI-compatible image generation and edit
// client targeting a Road2all-style relay endpoint. Generated images are
// persisted under the workspace downloads tree and referenced by path.
package images

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"wecomgw/pkg/config"
	"wecomgw/pkg/workspace"
)

const (
	defaultModel = "gpt-image-1.5"
	defaultSize  = "1024x1024"

	downloadTimeout = 60 * time.Second
)

// ErrNotConfigured signals that no image provider credentials were supplied.
var ErrNotConfigured = errors.New("image provider is not configured")

// Client wraps the OpenAI Images API against a configurable base URL.
type Client struct {
	client    osdk.Client
	model     string
	size      string
	workspace string
	http      *http.Client
}

// New builds a Client from the images section. Returns ErrNotConfigured when
// the base URL or the API key is missing so callers can degrade gracefully.
func New(cfg config.ImagesConfig, workspaceRoot string) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if baseURL == "" || apiKey == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(workspaceRoot) == "" {
		return nil, errors.New("workspace root is required")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &Client{
		client: osdk.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
		),
		model:     model,
		size:      normalizeSize(cfg.Size),
		workspace: workspaceRoot,
		http:      &http.Client{Timeout: downloadTimeout},
	}, nil
}

// Generate creates one image from a text prompt and returns the saved path.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt is required")
	}

	log := imagesLogger().With("operation", "generate")
	startedAt := time.Now()
	log.Debug("image request started", "model", c.model, "size", c.size, "prompt_length", len(prompt))

	resp, err := c.client.Images.Generate(ctx, osdk.ImageGenerateParams{
		Prompt: prompt,
		Model:  osdk.ImageModel(c.model),
		N:      osdk.Int(1),
		Size:   osdk.ImageGenerateParamsSize(c.size),
	})
	if err != nil {
		log.Debug("image request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("image generation failed: %w", err)
	}

	path, err := c.saveFirst(ctx, resp, fmt.Sprintf("road2all-%d.png", time.Now().UnixMilli()))
	if err != nil {
		log.Debug("image request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", err
	}
	log.Debug("image request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "path", path)

	return path, nil
}

// Edit applies a text instruction to an existing local image and returns the
// saved path of the result.
func (c *Client) Edit(ctx context.Context, imagePath, prompt string) (string, error) {
	imagePath = strings.TrimSpace(imagePath)
	prompt = strings.TrimSpace(prompt)
	if imagePath == "" || prompt == "" {
		return "", errors.New("image path and prompt are required")
	}

	file, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("open source image: %w", err)
	}
	defer file.Close()

	log := imagesLogger().With("operation", "edit")
	startedAt := time.Now()
	log.Debug("image request started", "model", c.model, "size", c.size, "source", imagePath)

	resp, err := c.client.Images.Edit(ctx, osdk.ImageEditParams{
		Image: osdk.ImageEditParamsImageUnion{
			OfFile: osdk.File(file, filepath.Base(imagePath), contentTypeForExt(imagePath)),
		},
		Prompt: prompt,
		Model:  osdk.ImageModel(c.model),
		N:      osdk.Int(1),
		Size:   osdk.ImageEditParamsSize(c.size),
	})
	if err != nil {
		log.Debug("image request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("image edit failed: %w", err)
	}

	path, err := c.saveFirst(ctx, resp, fmt.Sprintf("road2all-edit-%d.png", time.Now().UnixMilli()))
	if err != nil {
		log.Debug("image request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", err
	}
	log.Debug("image request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "path", path)

	return path, nil
}

// saveFirst persists the first image of a response, handling both b64_json
// and url result formats.
func (c *Client) saveFirst(ctx context.Context, resp *osdk.ImagesResponse, filename string) (string, error) {
	if resp == nil || len(resp.Data) == 0 {
		return "", errors.New("image response contained no data")
	}

	item := resp.Data[0]

	var data []byte
	switch {
	case item.B64JSON != "":
		decoded, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return "", fmt.Errorf("decode image data: %w", err)
		}
		data = decoded

	case item.URL != "":
		downloaded, err := c.download(ctx, item.URL)
		if err != nil {
			return "", err
		}
		data = downloaded

	default:
		return "", errors.New("image response had neither b64_json nor url")
	}

	outDir, err := workspace.DatedDir(c.workspace, "downloads", time.Now())
	if err != nil {
		return "", fmt.Errorf("prepare downloads dir: %w", err)
	}

	outPath := filepath.Join(outDir, filename)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}

	return outPath, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func imagesLogger() *slog.Logger {
	return slog.Default().With("component", "images")
}

// normalizeSize clamps the configured size to the values the API accepts.
func normalizeSize(size string) string {
	switch strings.TrimSpace(size) {
	case "1024x1024", "1536x1024", "1024x1536", "256x256", "512x512", "1792x1024", "1024x1792", "auto":
		return strings.TrimSpace(size)
	default:
		return defaultSize
	}
}

func contentTypeForExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
