package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/retry"
	"github.com/skypro1111/meeting-scribe/internal/textchunk"
)

const (
	defaultEndpoint = "https://api.notion.com"
	defaultVersion  = "2022-06-28"

	// RichTextLimit is the largest text content Notion accepts in one rich text object.
	RichTextLimit = 2000
	// maxBlocksPerRequest is Notion's cap on children per append call.
	maxBlocksPerRequest = 100
)

// Section is one titled block of page content.
type Section struct {
	Heading string
	Content string
}

// Entry identifies a created page.
type Entry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// EntryMetadata is recorded at the top of each meeting page.
type EntryMetadata struct {
	GuildID   string
	ChannelID string
	StartedBy string
	StartedAt time.Time
	EndedAt   time.Time
	Reason    string
}

// Config configures the Notion client.
type Config struct {
	APIKey        string
	DatabaseID    string
	Endpoint      string
	Version       string
	TitleProperty string
	Timeout       time.Duration
	MaxRetries    int
}

// NotionClient creates and fills meeting pages.
type NotionClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

type richText struct {
	Type string       `json:"type"`
	Text richTextBody `json:"text"`
}

type richTextBody struct {
	Content string `json:"content"`
}

type textBlock struct {
	RichText []richText `json:"rich_text"`
}

type block struct {
	Object    string     `json:"object"`
	Type      string     `json:"type"`
	Heading2  *textBlock `json:"heading_2,omitempty"`
	Paragraph *textBlock `json:"paragraph,omitempty"`
}

// NewNotionClient validates cfg and applies defaults.
func NewNotionClient(cfg Config, logger *slog.Logger) (*NotionClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("notion API key cannot be empty")
	}
	if cfg.DatabaseID == "" {
		return nil, fmt.Errorf("notion database ID cannot be empty")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.TitleProperty == "" {
		cfg.TitleProperty = "Name"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &NotionClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "notes")),
	}, nil
}

// CreateEntry creates a page titled title in the configured database, with
// the meeting metadata as its first paragraph.
func (c *NotionClient) CreateEntry(ctx context.Context, title string, meta EntryMetadata) (Entry, error) {
	payload := map[string]any{
		"parent": map[string]string{"database_id": c.cfg.DatabaseID},
		"properties": map[string]any{
			c.cfg.TitleProperty: map[string]any{
				"title": []richText{text(title)},
			},
		},
		"children": paragraphs(describe(meta)),
	}

	var entry Entry
	if err := c.call(ctx, http.MethodPost, "/v1/pages", payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("failed to create page: %w", err)
	}
	if entry.ID == "" {
		return Entry{}, fmt.Errorf("failed to create page: response did not include an id")
	}
	return entry, nil
}

// AppendSections appends each section as a heading followed by paragraphs,
// splitting content at RichTextLimit and requests at Notion's block cap.
func (c *NotionClient) AppendSections(ctx context.Context, pageID string, sections []Section) error {
	blocks := buildBlocks(sections)
	path := "/v1/blocks/" + pageID + "/children"

	for start := 0; start < len(blocks); start += maxBlocksPerRequest {
		end := min(start+maxBlocksPerRequest, len(blocks))
		payload := map[string]any{"children": blocks[start:end]}
		if err := c.call(ctx, http.MethodPatch, path, payload, nil); err != nil {
			return fmt.Errorf("failed to append blocks %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (c *NotionClient) call(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = c.cfg.MaxRetries
	policy.OnRetry = func(err error, delay time.Duration) {
		c.logger.Warn("Retrying Notion request",
			slog.String("path", path),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}

	_, err = retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Notion-Version", c.cfg.Version)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("HTTP request failed: %w", err)
		}
		respBody, err := retry.ReadResponse(resp)
		if err != nil {
			return struct{}{}, err
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return struct{}{}, retry.Permanent(fmt.Errorf("failed to parse response JSON: %w", err))
			}
		}
		return struct{}{}, nil
	})
	return err
}

func buildBlocks(sections []Section) []block {
	var blocks []block
	for _, s := range sections {
		if s.Heading != "" {
			blocks = append(blocks, block{
				Object:   "block",
				Type:     "heading_2",
				Heading2: &textBlock{RichText: []richText{text(s.Heading)}},
			})
		}
		blocks = append(blocks, paragraphs(s.Content)...)
	}
	return blocks
}

func paragraphs(content string) []block {
	var blocks []block
	for _, chunk := range textchunk.Split(content, RichTextLimit) {
		blocks = append(blocks, block{
			Object:    "block",
			Type:      "paragraph",
			Paragraph: &textBlock{RichText: []richText{text(chunk)}},
		})
	}
	return blocks
}

func text(s string) richText {
	return richText{Type: "text", Text: richTextBody{Content: s}}
}

func describe(meta EntryMetadata) string {
	var lines []string
	if !meta.StartedAt.IsZero() {
		lines = append(lines, "Started: "+meta.StartedAt.UTC().Format(time.RFC3339))
	}
	if !meta.EndedAt.IsZero() {
		lines = append(lines, "Ended: "+meta.EndedAt.UTC().Format(time.RFC3339))
	}
	if meta.StartedBy != "" {
		lines = append(lines, "Started by: "+meta.StartedBy)
	}
	if meta.Reason != "" {
		lines = append(lines, "End reason: "+meta.Reason)
	}
	if meta.GuildID != "" {
		lines = append(lines, "Guild: "+meta.GuildID)
	}
	if meta.ChannelID != "" {
		lines = append(lines, "Channel: "+meta.ChannelID)
	}
	return strings.Join(lines, "\n")
}
