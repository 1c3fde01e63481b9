package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const defaultAPIBaseURL = "https://qyapi.weixin.qq.com"

// apiTokenMargin is shaved off the reported expiry so a token is refreshed
// before the platform stops accepting it.
const apiTokenMargin = 60 * time.Second

// officialClient speaks the WeCom corp API: access tokens, media download,
// media upload, and application message send. One client serves all accounts;
// tokens are cached per corp id.
type officialClient struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	mu     sync.Mutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

type apiError struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (e apiError) failed() bool { return e.ErrCode != 0 }

func newOfficialClient(baseURL string, log *slog.Logger) *officialClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultAPIBaseURL
	}
	if log == nil {
		log = slog.Default()
	}

	return &officialClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With("component", "channel.wecom.official"),
		tokens:     make(map[string]cachedToken),
	}
}

// accessToken returns a cached token for the corp or fetches a fresh one.
func (c *officialClient) accessToken(ctx context.Context, corpID, corpSecret string) (string, error) {
	c.mu.Lock()
	cached, ok := c.tokens[corpID]
	c.mu.Unlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/gettoken?corpid=%s&corpsecret=%s",
		c.baseURL, url.QueryEscape(corpID), url.QueryEscape(corpSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build gettoken request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gettoken request: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		apiError
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode gettoken response: %w", err)
	}
	if payload.failed() || payload.AccessToken == "" {
		return "", fmt.Errorf("gettoken failed: errcode=%d errmsg=%s", payload.ErrCode, payload.ErrMsg)
	}

	expiresAt := time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - apiTokenMargin)
	c.mu.Lock()
	c.tokens[corpID] = cachedToken{value: payload.AccessToken, expiresAt: expiresAt}
	c.mu.Unlock()

	return payload.AccessToken, nil
}

// FetchMedia downloads one uploaded media item and returns its raw bytes and
// content type.
func (c *officialClient) FetchMedia(ctx context.Context, corpID, corpSecret, mediaID string) ([]byte, string, error) {
	token, err := c.accessToken(ctx, corpID, corpSecret)
	if err != nil {
		return nil, "", err
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/media/get?access_token=%s&media_id=%s",
		c.baseURL, url.QueryEscape(token), url.QueryEscape(mediaID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	// The platform reports errors as a JSON body with a success status code.
	if strings.Contains(contentType, "application/json") || strings.Contains(contentType, "text/plain") {
		var failure apiError
		if err := json.Unmarshal(data, &failure); err == nil && failure.failed() {
			return nil, "", fmt.Errorf("media download failed: errcode=%d errmsg=%s", failure.ErrCode, failure.ErrMsg)
		}
	}

	return data, contentType, nil
}

// UploadImage uploads a local image as temporary media and returns its media id.
func (c *officialClient) UploadImage(ctx context.Context, corpID, corpSecret, imagePath string) (string, error) {
	token, err := c.accessToken(ctx, corpID, corpSecret)
	if err != nil {
		return "", err
	}

	file, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("media", filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy image into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize upload form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/media/upload?access_token=%s&type=image",
		c.baseURL, url.QueryEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		apiError
		MediaID string `json:"media_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if payload.failed() || payload.MediaID == "" {
		return "", fmt.Errorf("media upload failed: errcode=%d errmsg=%s", payload.ErrCode, payload.ErrMsg)
	}

	return payload.MediaID, nil
}

// SendText delivers a text application message to one user.
func (c *officialClient) SendText(ctx context.Context, corpID, corpSecret string, agentID int, toUser, content string) error {
	return c.sendMessage(ctx, corpID, corpSecret, map[string]any{
		"touser":  toUser,
		"msgtype": "text",
		"agentid": agentID,
		"text":    map[string]string{"content": content},
	})
}

// SendImage delivers an uploaded image application message to one user.
func (c *officialClient) SendImage(ctx context.Context, corpID, corpSecret string, agentID int, toUser, mediaID string) error {
	return c.sendMessage(ctx, corpID, corpSecret, map[string]any{
		"touser":  toUser,
		"msgtype": "image",
		"agentid": agentID,
		"image":   map[string]string{"media_id": mediaID},
	})
}

func (c *officialClient) sendMessage(ctx context.Context, corpID, corpSecret string, message map[string]any) error {
	token, err := c.accessToken(ctx, corpID, corpSecret)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/message/send?access_token=%s", c.baseURL, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var result apiError
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode send response: %w", err)
	}
	if result.failed() {
		return fmt.Errorf("message send failed: errcode=%d errmsg=%s", result.ErrCode, result.ErrMsg)
	}

	return nil
}
