package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/lumastream/signalcore/internal/domain"
)

// HistoryClient reads persisted chat from the platform's REST history
// endpoint, the external collaborator that keeps transport outages
// from blocking historical reads.
type HistoryClient struct {
	baseURL string
	hc      *http.Client
}

func NewHistoryClient(baseURL string) *HistoryClient {
	return &HistoryClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HistoryClient) Recent(ctx context.Context, channel domain.ChannelName, limit int) ([]domain.ChatPayload, error) {
	u := fmt.Sprintf("%s/channels/%s/messages?limit=%s",
		c.baseURL, url.PathEscape(string(channel)), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat history fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat history fetch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []domain.ChatPayload `json:"messages"`
	}
	if err = sonic.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("chat history decode: %w", err)
	}
	return out.Messages, nil
}
