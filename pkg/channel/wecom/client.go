package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wecomgw/pkg/bus"
	"wecomgw/pkg/config"
)

// Sender performs one outbound delivery to a recipient. The transport behind
// it is the account's concern, not the caller's.
type Sender interface {
	Send(ctx context.Context, recipient string, msg bus.OutboundMessage) error
}

// MediaFetcher retrieves one uploaded media item out-of-band.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// accountClient delivers messages for one account. Preference order: hand the
// message to a waiting synchronous request, else POST to the configured
// webhook, else the official API, else park it on the polling queue.
type accountClient struct {
	acct       config.WecomAccountConfig
	official   *officialClient
	queue      *bus.Queue
	httpClient *http.Client
	log        *slog.Logger
}

func newAccountClient(acct config.WecomAccountConfig, official *officialClient, queue *bus.Queue, log *slog.Logger) *accountClient {
	if log == nil {
		log = slog.Default()
	}

	return &accountClient{
		acct:       acct,
		official:   official,
		queue:      queue,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With("component", "channel.wecom.client"),
	}
}

func (c *accountClient) Send(ctx context.Context, recipient string, msg bus.OutboundMessage) error {
	if recipient == "" {
		return errors.New("recipient is required")
	}

	if c.queue != nil && c.queue.Offer(recipient, msg) {
		c.log.Debug("Delivered to waiting request", "recipient", recipient)
		return nil
	}

	if c.acct.WebhookURL != "" {
		return c.sendWebhook(ctx, recipient, msg)
	}

	if c.acct.CorpID != "" && c.acct.CorpSecret != "" && c.acct.AgentID != 0 {
		return c.sendOfficial(ctx, recipient, msg)
	}

	if c.queue != nil {
		c.queue.Enqueue(recipient, msg)
		c.log.Debug("Queued for polling", "recipient", recipient)
		return nil
	}

	return errors.New("no outbound transport configured")
}

func (c *accountClient) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	if c.acct.CorpID == "" || c.acct.CorpSecret == "" {
		return nil, "", errors.New("corpid/corpsecret not configured")
	}

	return c.official.FetchMedia(ctx, c.acct.CorpID, c.acct.CorpSecret, mediaID)
}

// sendWebhook POSTs the message to the generic webhook endpoint.
func (c *accountClient) sendWebhook(ctx context.Context, recipient string, msg bus.OutboundMessage) error {
	payload, err := json.Marshal(map[string]string{
		"to":        recipient,
		"text":      msg.Text,
		"mediaUrl":  msg.MediaURL,
		"mediaPath": msg.MediaPath,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.acct.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.acct.WebhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.acct.WebhookToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook delivery failed: status %d", resp.StatusCode)
	}

	return nil
}

// sendOfficial delivers through the official API, uploading a local image
// first when the message carries one.
func (c *accountClient) sendOfficial(ctx context.Context, recipient string, msg bus.OutboundMessage) error {
	if msg.MediaPath != "" {
		mediaID, err := c.official.UploadImage(ctx, c.acct.CorpID, c.acct.CorpSecret, msg.MediaPath)
		if err != nil {
			return err
		}
		if err := c.official.SendImage(ctx, c.acct.CorpID, c.acct.CorpSecret, c.acct.AgentID, recipient, mediaID); err != nil {
			return err
		}
		if msg.Text == "" {
			return nil
		}
	}

	content := msg.Text
	if msg.MediaURL != "" {
		if content != "" {
			content += "\n"
		}
		content += msg.MediaURL
	}
	if content == "" {
		return nil
	}

	return c.official.SendText(ctx, c.acct.CorpID, c.acct.CorpSecret, c.acct.AgentID, recipient, content)
}
