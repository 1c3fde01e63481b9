package wecom

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// MessageKind classifies one decrypted WeCom message.
type MessageKind string

const (
	KindEvent MessageKind = "event"
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindOther MessageKind = "other"
)

// Message is the typed record parsed from one decrypted WeCom XML payload.
// Immutable once parsed.
type Message struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	Content      string   `xml:"Content"`
	PicURL       string   `xml:"PicUrl"`
	MediaID      string   `xml:"MediaId"`
	MsgID        string   `xml:"MsgId"`
	AgentID      string   `xml:"AgentID"`
	Event        string   `xml:"Event"`
	EventKey     string   `xml:"EventKey"`
}

// encryptedEnvelope is the outer frame carried in the webhook POST body.
type encryptedEnvelope struct {
	XMLName xml.Name `xml:"xml"`
	Encrypt string   `xml:"Encrypt"`
}

// parseEnvelope extracts the ciphertext from the outer XML frame.
func parseEnvelope(body []byte) (string, error) {
	var envelope encryptedEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("parse envelope xml: %w", err)
	}
	if strings.TrimSpace(envelope.Encrypt) == "" {
		return "", fmt.Errorf("envelope missing Encrypt field")
	}

	return strings.TrimSpace(envelope.Encrypt), nil
}

// parseMessage parses decrypted XML into a Message. Parsing is permissive:
// unknown fields are ignored, and a malformed document is an error the caller
// treats as non-fatal.
func parseMessage(xmlText string) (*Message, error) {
	var msg Message
	if err := xml.Unmarshal([]byte(xmlText), &msg); err != nil {
		return nil, fmt.Errorf("parse message xml: %w", err)
	}

	return &msg, nil
}

// Kind classifies the message by its MsgType field, case-insensitively.
func (m *Message) Kind() MessageKind {
	switch strings.ToLower(strings.TrimSpace(m.MsgType)) {
	case "event":
		return KindEvent
	case "text":
		return KindText
	case "image":
		return KindImage
	default:
		return KindOther
	}
}

// DispatchText normalizes the message body and attached media references into
// the text and media list handed to the reply resolver.
//
// Non-text kinds without content fall back to a bracketed type placeholder so
// the resolver always receives a non-empty body.
func (m *Message) DispatchText() (string, []string) {
	text := strings.TrimSpace(m.Content)

	var mediaURLs []string
	if pic := strings.TrimSpace(m.PicURL); pic != "" {
		mediaURLs = append(mediaURLs, pic)
	}

	if text == "" {
		msgType := strings.TrimSpace(m.MsgType)
		if msgType == "" {
			msgType = "unknown"
		}
		text = "[" + strings.ToLower(msgType) + "]"
	}

	return text, mediaURLs
}
