package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultBaseURL is the Upstox v2 REST API root.
	DefaultBaseURL = "https://api.upstox.com/v2"
	// DefaultHFTURL is the low-latency host used for order modification.
	DefaultHFTURL = "https://api-hft.upstox.com/v2"

	defaultHTTPTimeout = 10 * time.Second
)

// UpstoxClient implements Broker against the Upstox v2 REST API. Requests are
// authenticated per client via the TokenProvider; trading symbols are resolved
// to instrument keys through the InstrumentResolver.
type UpstoxClient struct {
	baseURL     string
	hftURL      string
	httpClient  *http.Client
	tokens      TokenProvider
	instruments InstrumentResolver
	logger      *logrus.Logger
}

// NewUpstoxClient creates an Upstox broker client. Empty URLs fall back to the
// production hosts.
func NewUpstoxClient(baseURL, hftURL string, timeout time.Duration, tokens TokenProvider, instruments InstrumentResolver, logger *logrus.Logger) *UpstoxClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hftURL == "" {
		hftURL = DefaultHFTURL
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &UpstoxClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		hftURL:      strings.TrimRight(hftURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		tokens:      tokens,
		instruments: instruments,
		logger:      logger,
	}
}

// Ensure UpstoxClient implements Broker at compile time.
var _ Broker = (*UpstoxClient)(nil)

type upstoxOrderBody struct {
	InstrumentToken   string  `json:"instrument_token"`
	TransactionType   string  `json:"transaction_type"`
	Price             float64 `json:"price"`
	Quantity          int     `json:"quantity"`
	OrderType         string  `json:"order_type"`
	Product           string  `json:"product"`
	Validity          string  `json:"validity"`
	TriggerPrice      float64 `json:"trigger_price"`
	DisclosedQuantity int     `json:"disclosed_quantity"`
	IsAMO             bool    `json:"is_amo"`
	CorrelationID     string  `json:"correlation_id"`
}

// PlaceOrderBatch submits all legs through the multi-order endpoint. A leg
// with price zero goes out as a market order, otherwise as a DAY limit order.
func (u *UpstoxClient) PlaceOrderBatch(ctx context.Context, clientID string, reqs []OrderRequest) ([]PlacedOrder, error) {
	body := make([]upstoxOrderBody, 0, len(reqs))
	for _, req := range reqs {
		token, err := u.instruments.InstrumentKey(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", req.Symbol, err)
		}
		orderType := "LIMIT"
		if req.Price == 0 {
			orderType = "MARKET"
		}
		body = append(body, upstoxOrderBody{
			InstrumentToken: token,
			TransactionType: req.Side,
			Price:           req.Price,
			Quantity:        req.Quantity,
			OrderType:       orderType,
			Product:         "D",
			Validity:        "DAY",
			CorrelationID:   req.CorrelationID,
		})
	}

	var resp struct {
		Data []struct {
			CorrelationID string `json:"correlation_id"`
			OrderID       string `json:"order_id"`
		} `json:"data"`
	}
	if err := u.do(ctx, clientID, http.MethodPost, u.baseURL+"/order/multi/place", nil, body, &resp); err != nil {
		return nil, err
	}

	placed := make([]PlacedOrder, 0, len(resp.Data))
	for _, d := range resp.Data {
		placed = append(placed, PlacedOrder{CorrelationID: d.CorrelationID, OrderID: d.OrderID})
	}
	return placed, nil
}

// FetchOrders returns the client's full order book for the day.
func (u *UpstoxClient) FetchOrders(ctx context.Context, clientID string) ([]Order, error) {
	var resp struct {
		Data []struct {
			OrderID       string  `json:"order_id"`
			TradingSymbol string  `json:"trading_symbol"`
			Side          string  `json:"transaction_type"`
			Status        string  `json:"status"`
			StatusMessage string  `json:"status_message"`
			AveragePrice  float64 `json:"average_price"`
		} `json:"data"`
	}
	if err := u.do(ctx, clientID, http.MethodGet, u.baseURL+"/order/retrieve-all", nil, nil, &resp); err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(resp.Data))
	for _, d := range resp.Data {
		orders = append(orders, Order{
			OrderID:      d.OrderID,
			Symbol:       d.TradingSymbol,
			Side:         d.Side,
			Status:       d.Status,
			Message:      d.StatusMessage,
			AveragePrice: d.AveragePrice,
		})
	}
	return orders, nil
}

// GetQuotes fetches a batched full quote for the given trading symbols and
// returns bid/ask/LTP keyed by trading symbol.
func (u *UpstoxClient) GetQuotes(ctx context.Context, clientID string, symbols ...string) (map[string]Quote, error) {
	tokens := make([]string, 0, len(symbols))
	keysBySymbol := make(map[string][]string, len(symbols))
	for _, symbol := range symbols {
		token, err := u.instruments.InstrumentKey(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", symbol, err)
		}
		tokens = append(tokens, token)
		// The response is keyed "SEGMENT:Name". Options report the trading
		// symbol after the segment; indices report the instrument name.
		segment, _, found := strings.Cut(token, "|")
		candidates := []string{strings.Replace(token, "|", ":", 1)}
		if found {
			candidates = append(candidates, segment+":"+symbol)
		}
		keysBySymbol[symbol] = candidates
	}

	query := url.Values{"instrument_key": {strings.Join(tokens, ",")}}
	var resp struct {
		Data map[string]struct {
			LastPrice float64 `json:"last_price"`
			Depth     struct {
				Buy []struct {
					Price float64 `json:"price"`
				} `json:"buy"`
				Sell []struct {
					Price float64 `json:"price"`
				} `json:"sell"`
			} `json:"depth"`
		} `json:"data"`
	}
	if err := u.do(ctx, clientID, http.MethodGet, u.baseURL+"/market-quote/quotes", query, nil, &resp); err != nil {
		return nil, err
	}

	quotes := make(map[string]Quote, len(symbols))
	for symbol, candidates := range keysBySymbol {
		for _, key := range candidates {
			d, ok := resp.Data[key]
			if !ok {
				continue
			}
			q := Quote{LTP: d.LastPrice}
			if len(d.Depth.Buy) > 0 {
				q.Bid = d.Depth.Buy[0].Price
			}
			if len(d.Depth.Sell) > 0 {
				q.Ask = d.Depth.Sell[0].Price
			}
			quotes[symbol] = q
			break
		}
		if _, ok := quotes[symbol]; !ok {
			return nil, fmt.Errorf("quote response missing symbol %s", symbol)
		}
	}
	return quotes, nil
}

// ModifyOrder re-prices an open order as a DAY limit order via the HFT host.
func (u *UpstoxClient) ModifyOrder(ctx context.Context, clientID, orderID string, price float64) error {
	body := map[string]any{
		"order_id":      orderID,
		"price":         price,
		"order_type":    "LIMIT",
		"validity":      "DAY",
		"trigger_price": 0,
	}
	return u.do(ctx, clientID, http.MethodPut, u.hftURL+"/order/modify", nil, body, nil)
}

// do performs one authenticated API call and decodes the JSON response.
func (u *UpstoxClient) do(ctx context.Context, clientID, method, endpoint string, query url.Values, body, out any) error {
	token, err := u.tokens.AccessToken(ctx, clientID)
	if err != nil {
		return fmt.Errorf("access token for %s: %w", clientID, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
