package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/iase/mailmerge/internal/email"
)

// BridgeMessageType is the message type the host application accepts
const BridgeMessageType = "SEND_EMAIL"

// BridgeRequest is the JSON body posted to the host application
type BridgeRequest struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	To        string `json:"to"`
	ToName    string `json:"to_name,omitempty"`
	Subject   string `json:"subject"`
	Text      string `json:"text,omitempty"`
	HTML      string `json:"html,omitempty"`
}

type bridgeError struct {
	Error string `json:"error"`
}

// BridgeMailer hands messages to the host application over HTTP
type BridgeMailer struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBridgeMailer creates a new bridge mailer
func NewBridgeMailer(url, apiKey string, timeout time.Duration, logger *slog.Logger) *BridgeMailer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &BridgeMailer{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "bridge_mailer"),
	}
}

// Send posts the message to the host application
func (b *BridgeMailer) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s@%s", uuid.New().String(), email.DomainOr(msg.From, "localhost"))
	}

	body := &BridgeRequest{
		Type:      BridgeMessageType,
		MessageID: msg.ID,
		From:      msg.From,
		FromName:  msg.FromName,
		ReplyTo:   msg.ReplyTo,
		To:        msg.To,
		ToName:    msg.ToName,
		Subject:   msg.Subject,
		Text:      msg.Text,
		HTML:      msg.HTML,
	}

	if err := b.request(ctx, body); err != nil {
		return err
	}

	b.logger.Debug("message handed to host", "message_id", msg.ID, "to", msg.To)
	return nil
}

func (b *BridgeMailer) request(ctx context.Context, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp bridgeError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("bridge error: %s", errResp.Error)
	}

	return nil
}
