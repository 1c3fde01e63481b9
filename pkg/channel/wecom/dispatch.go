package wecom

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wecomgw/pkg/bus"
	"wecomgw/pkg/config"
	"wecomgw/pkg/workspace"
)

// Command grammar recognized in resolved reply text. The whole trimmed
// payload must start with the prefix; text mentioning a prefix mid-sentence
// is delivered verbatim.
const (
	imageGenPrefix  = "IMAGE_GEN:"
	imageEditPrefix = "IMAGE_EDIT:"
)

const (
	msgImagesNotConfigured = "未配置 Road2all（缺少 ROAD2ALL_BASE_URL/ROAD2ALL_API_KEY）"
	msgEditFormatError     = "IMAGE_EDIT 格式错误，应为：IMAGE_EDIT: <imagePath> | <prompt>"
	msgMediaNotConfigured  = "收到图片了，但未配置 corpid/corpsecret，无法下载图片。"
)

// resolveReplies hands one dispatch context to the reply resolver and routes
// every produced payload through the command-aware delivery path. It runs
// detached from the originating request; errors are logged and swallowed.
func (g *Gateway) resolveReplies(ctx context.Context, accountID string, dc bus.DispatchContext) {
	deliver := func(ctx context.Context, payload bus.ReplyPayload) {
		g.deliverReply(ctx, accountID, dc.From, payload)
	}

	if err := g.resolver.Resolve(ctx, dc, deliver); err != nil {
		g.log.Error("Reply resolution failed",
			"account", accountID,
			"session_key", dc.SessionKey,
			"error", err,
		)
	}
}

// deliverReply inspects one resolved payload for the image command grammar
// and either delegates to the image collaborator or delivers the payload
// as-is.
func (g *Gateway) deliverReply(ctx context.Context, accountID, recipient string, payload bus.ReplyPayload) {
	raw := strings.TrimSpace(payload.Text)

	switch {
	case strings.HasPrefix(raw, imageGenPrefix):
		g.handleImageGen(ctx, accountID, recipient, strings.TrimSpace(raw[len(imageGenPrefix):]))

	case strings.HasPrefix(raw, imageEditPrefix):
		g.handleImageEdit(ctx, accountID, recipient, strings.TrimSpace(raw[len(imageEditPrefix):]))

	default:
		g.send(ctx, accountID, recipient, bus.OutboundMessage{
			Text:     payload.Text,
			MediaURL: payload.MediaURL,
		})
	}
}

func (g *Gateway) handleImageGen(ctx context.Context, accountID, recipient, prompt string) {
	if g.images == nil {
		g.send(ctx, accountID, recipient, bus.OutboundMessage{Text: msgImagesNotConfigured})
		return
	}

	path, err := g.images.Generate(ctx, prompt)
	if err != nil {
		g.log.Error("Image generation failed", "account", accountID, "error", err)
		return
	}

	g.send(ctx, accountID, recipient, bus.OutboundMessage{MediaPath: path})
}

func (g *Gateway) handleImageEdit(ctx context.Context, accountID, recipient, rest string) {
	if g.images == nil {
		g.send(ctx, accountID, recipient, bus.OutboundMessage{Text: msgImagesNotConfigured})
		return
	}

	imagePath, prompt, ok := parseEditCommand(rest)
	if !ok {
		g.send(ctx, accountID, recipient, bus.OutboundMessage{Text: msgEditFormatError})
		return
	}

	path, err := g.images.Edit(ctx, imagePath, prompt)
	if err != nil {
		g.log.Error("Image edit failed", "account", accountID, "error", err)
		return
	}

	g.send(ctx, accountID, recipient, bus.OutboundMessage{MediaPath: path})
}

// parseEditCommand splits "path | instruction" on the pipe separator. Extra
// separators stay part of the instruction.
func parseEditCommand(rest string) (imagePath, prompt string, ok bool) {
	parts := strings.Split(rest, "|")

	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) < 2 {
		return "", "", false
	}

	return kept[0], strings.Join(kept[1:], " | "), true
}

// processImage runs the post-ack image flow: dedupe the at-least-once
// delivery, fetch the media out-of-band, persist it under the workspace, and
// confirm back to the sender with an edit hint.
func (g *Gateway) processImage(ctx context.Context, accountID string, acct config.WecomAccountConfig, msg *Message) {
	mediaID := strings.TrimSpace(msg.MediaID)
	from := strings.TrimSpace(msg.FromUserName)
	if mediaID == "" || from == "" {
		g.log.Warn("Image message missing MediaId/FromUserName", "account", accountID)
		return
	}

	key := makeDedupeKey(channelName, accountID, from, mediaID)
	if g.dedupe.Seen(key) {
		g.log.Info("Skipping duplicate image", "key", key)
		return
	}

	if acct.CorpID == "" || acct.CorpSecret == "" {
		g.send(ctx, accountID, from, bus.OutboundMessage{Text: msgMediaNotConfigured})
		return
	}

	data, contentType, err := g.fetcherFor(accountID).FetchMedia(ctx, mediaID)
	if err != nil {
		g.log.Error("Image download failed", "account", accountID, "media_id", mediaID, "error", err)
		return
	}

	outDir, err := workspace.DatedDir(g.workspace, "uploads", time.Now())
	if err != nil {
		g.log.Error("Failed to prepare upload directory", "error", err)
		return
	}

	outPath := filepath.Join(outDir, fmt.Sprintf("wecom-%d-%s%s", time.Now().UnixMilli(), mediaID, extFromContentType(contentType)))
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		g.log.Error("Failed to save image", "path", outPath, "error", err)
		return
	}

	confirm := fmt.Sprintf("已收到图片并保存：%s\n想怎么改？（你也可以用：IMAGE_EDIT: %s | <你的修改要求>）", outPath, outPath)
	g.send(ctx, accountID, from, bus.OutboundMessage{Text: confirm})
}

// send performs one outbound delivery, logging instead of propagating: the
// originating response closed long ago.
func (g *Gateway) send(ctx context.Context, accountID, recipient string, msg bus.OutboundMessage) {
	sender := g.senderFor(accountID)
	if sender == nil {
		g.log.Error("No sender configured", "account", accountID)
		return
	}

	if err := sender.Send(ctx, recipient, msg); err != nil {
		g.log.Error("Outbound delivery failed", "account", accountID, "recipient", recipient, "error", err)
	}
}

// extFromContentType maps a media content type to a file extension.
func extFromContentType(contentType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch base {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
