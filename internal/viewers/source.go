package viewers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"

	"github.com/lumastream/signalcore/internal/domain"
)

// HTTPCountSource reads the authoritative viewer count from the
// platform's REST snapshot endpoint.
type HTTPCountSource struct {
	baseURL string
	hc      *http.Client
}

func NewHTTPCountSource(baseURL string) *HTTPCountSource {
	return &HTTPCountSource{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPCountSource) ViewerCount(ctx context.Context, channel domain.ChannelName) (int, error) {
	u := fmt.Sprintf("%s/streams/%s/viewers", s.baseURL, url.PathEscape(string(channel)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("viewer count fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("viewer count fetch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	var out struct {
		Count int `json:"count"`
	}
	if err = sonic.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("viewer count decode: %w", err)
	}
	return out.Count, nil
}
