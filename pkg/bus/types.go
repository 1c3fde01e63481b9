package bus

import "strings"

// DispatchContext is the normalized inbound request handed to the reply
// resolver. It is built fresh per message and never persisted.
type DispatchContext struct {
	Channel      string   `json:"channel"`
	AccountID    string   `json:"account_id"`
	From         string   `json:"from"`
	Body         string   `json:"body"`
	SessionKey   string   `json:"session_key"`
	MediaURLs    []string `json:"media_urls,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// ReplyPayload is one unit of outbound content produced by reply resolution.
// Zero or more payloads may be delivered per DispatchContext.
type ReplyPayload struct {
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

// OutboundMessage is one message on its way to a recipient, either through a
// configured transport or the polling queue.
type OutboundMessage struct {
	Text      string `json:"text,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaPath string `json:"mediaPath,omitempty"`
}

// DeriveSessionKey builds the deterministic session namespace for one sender.
func DeriveSessionKey(channel, accountID, from string) string {
	return strings.Join([]string{channel, accountID, from}, ":")
}
