package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/version"
)

const (
	defaultClientTimeout = 5 * time.Second
	maxResponseBytes     = 1 << 20
)

// Client — HTTP-клиент сервиса склада и каталога:
// GET {base}/stock/{id} и GET {base}/products/{id}.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Entry
}

// NewClient создаёт клиента. timeout<=0 заменяется значением по умолчанию.
func NewClient(baseURL string, timeout time.Duration, logger *log.Entry) *Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "inventory-client")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Stock запрашивает текущий остаток товара. Любой не-2xx ответ — ошибка.
func (c *Client) Stock(ctx context.Context, productID int64) (domain.Stock, error) {
	var stock domain.Stock
	found, err := c.getJSON(ctx, fmt.Sprintf("/stock/%d", productID), &stock)
	if err != nil {
		return domain.Stock{}, fmt.Errorf("stock %d: %w", productID, err)
	}
	if !found {
		return domain.Stock{}, fmt.Errorf("stock %d: %w", productID, domain.ErrProductNotFound)
	}
	if stock.ProductID == 0 {
		stock.ProductID = productID
	}
	return stock, nil
}

// Product запрашивает витринные данные. 404 или тело `null` — (nil, nil).
func (c *Client) Product(ctx context.Context, productID int64) (*domain.Product, error) {
	var product *domain.Product
	found, err := c.getJSON(ctx, fmt.Sprintf("/products/%d", productID), &product)
	if err != nil {
		return nil, fmt.Errorf("product %d: %w", productID, err)
	}
	if !found {
		return nil, nil
	}
	return product, nil
}

// Ping проверяет доступность сервиса (используется health-check).
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInventoryTemporary, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", domain.ErrInventoryTemporary, resp.StatusCode)
	}
	return nil
}

// getJSON выполняет GET и декодирует тело в out. found=false для 404.
func (c *Client) getJSON(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", domain.ErrInventoryTemporary, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(log.Fields{
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("inventory request finished")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, fmt.Errorf("%w: status %d", domain.ErrInventoryTemporary, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, fmt.Errorf("%w: read body: %v", domain.ErrInventoryTemporary, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}

var (
	_ domain.StockService   = (*Client)(nil)
	_ domain.CatalogService = (*Client)(nil)
)
