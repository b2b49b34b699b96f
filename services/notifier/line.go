package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sjsage522/bcfinder/logger"
)

const linePushPath = "/v2/bot/message/push"

// LineTransport pushes flex messages to a group chat and text alerts to an
// admin through the LINE Messaging API
type LineTransport struct {
	baseURL     string
	accessToken string
	groupChatID string
	adminID     string
	client      *http.Client
}

// NewLineTransport creates a new LINE transport
func NewLineTransport(baseURL, accessToken, groupChatID, adminID string, client *http.Client) *LineTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &LineTransport{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		groupChatID: groupChatID,
		adminID:     adminID,
		client:      client,
	}
}

func (*LineTransport) transport() {}

type linePush struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

type lineMessage struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	AltText  string         `json:"altText,omitempty"`
	Contents *flexComponent `json:"contents,omitempty"`
}

type flexComponent struct {
	Type     string          `json:"type"`
	Layout   string          `json:"layout,omitempty"`
	Text     string          `json:"text,omitempty"`
	Color    string          `json:"color,omitempty"`
	Size     string          `json:"size,omitempty"`
	Weight   string          `json:"weight,omitempty"`
	Wrap     bool            `json:"wrap,omitempty"`
	Flex     int             `json:"flex,omitempty"`
	Spacing  string          `json:"spacing,omitempty"`
	Body     *flexComponent  `json:"body,omitempty"`
	Contents []flexComponent `json:"contents,omitempty"`
	Action   *flexAction     `json:"action,omitempty"`
}

type flexAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	URI   string `json:"uri"`
}

// Send pushes the announcement as a flex message to the group chat
func (l *LineTransport) Send(ctx context.Context, msg Message) error {
	return l.push(ctx, l.groupChatID, lineMessage{
		Type:     "flex",
		AltText:  msg.AltText,
		Contents: flexBubble(msg),
	})
}

// Alert pushes a text message to the admin
func (l *LineTransport) Alert(ctx context.Context, text string) error {
	if l.adminID == "" {
		logger.ForNotifier().Warn().Str("alert", text).Msg("No LINE admin configured, alert dropped")
		return nil
	}
	return l.push(ctx, l.adminID, lineMessage{Type: "text", Text: text})
}

// Trim is a no-op, LINE retains nothing on our side
func (l *LineTransport) Trim(context.Context) error {
	return nil
}

// Close is a no-op
func (l *LineTransport) Close() error {
	return nil
}

func (l *LineTransport) push(ctx context.Context, to string, msg lineMessage) error {
	body, err := json.Marshal(linePush{To: to, Messages: []lineMessage{msg}})
	if err != nil {
		return fmt.Errorf("failed to encode push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+linePushPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.accessToken)

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push unexpected status code: %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// flexBubble lays out the title, link and published date under a colored
// heading. LINE rejects empty text components, so blanks render as "-".
func flexBubble(msg Message) *flexComponent {
	linkValue := flexComponent{Type: "text", Text: "-", Size: "sm", Flex: 4}
	if msg.Link != "" {
		linkValue = flexComponent{
			Type:   "button",
			Action: &flexAction{Type: "uri", Label: "點我前往", URI: msg.Link},
			Flex:   4,
		}
	}

	return &flexComponent{
		Type: "bubble",
		Body: &flexComponent{
			Type:    "box",
			Layout:  "vertical",
			Spacing: "md",
			Contents: []flexComponent{
				{Type: "text", Text: orDash(msg.MessageTitle), Weight: "bold", Size: "xl", Color: msg.Color},
				flexRow("標題", flexComponent{Type: "text", Text: orDash(msg.Title), Size: "sm", Wrap: true, Flex: 4}),
				flexRow("連結", linkValue),
				flexRow("發布日期", flexComponent{Type: "text", Text: orDash(msg.Published), Size: "sm", Flex: 4}),
			},
		},
	}
}

func flexRow(label string, value flexComponent) flexComponent {
	return flexComponent{
		Type:   "box",
		Layout: "horizontal",
		Contents: []flexComponent{
			{Type: "text", Text: label, Color: "#aaaaaa", Size: "sm", Flex: 1},
			value,
		},
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
