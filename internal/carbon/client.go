package carbon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client инкапсулирует HTTP-взаимодействие с внешним сервисом коэффициентов выбросов.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// CategoryFactor описывает ответ сервиса коэффициентов по одной категории.
type CategoryFactor struct {
	Category string          `json:"category"`
	Factor   decimal.Decimal `json:"factor"`
}

// NewClient создаёт HTTP-клиент для обращения к сервису коэффициентов по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetFactor запрашивает коэффициент выбросов для указанной категории.
// При статусе 204 категория сервису неизвестна — вызывающая сторона
// использует встроенную таблицу.
func (c *Client) GetFactor(ctx context.Context, category string) (decimal.Decimal, bool, error) {
	if c == nil || c.baseURL == "" {
		return decimal.Zero, false, fmt.Errorf("carbon client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	reqURL := fmt.Sprintf("%s/api/factors/%s", base, url.PathEscape(category))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return decimal.Zero, false, nil
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result CategoryFactor
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, false, fmt.Errorf("decode response: %w", err)
	}

	if result.Factor.IsNegative() {
		return decimal.Zero, false, fmt.Errorf("negative factor for %s", category)
	}

	return result.Factor, true, nil
}
