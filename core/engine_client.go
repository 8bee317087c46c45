package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// EngineClient abstracts the analysis engine interaction.
type EngineClient interface {
	FetchStockData(ctx context.Context, stockCode string) (*engineStockData, error)
	GenerateReport(ctx context.Context, stockCode, reportType string, data *engineStockData) (string, error)
}

// HTTPEngineClient calls the analysis engine HTTP endpoints.
type HTTPEngineClient struct {
	client *http.Client
	base   string
}

func NewHTTPEngineClient(baseURL string, timeout time.Duration) *HTTPEngineClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPEngineClient{
		client: &http.Client{Timeout: timeout},
		base:   baseURL,
	}
}

// Engine payload structures.

type engineStockData struct {
	StockCode  string          `json:"stock_code"`
	Name       string          `json:"name"`
	Market     string          `json:"market"`
	Quote      json.RawMessage `json:"quote"`
	Indicators json.RawMessage `json:"indicators,omitempty"`
	News       json.RawMessage `json:"news,omitempty"`
}

// EngineStockData is an exported alias for test/mocking.
type EngineStockData = engineStockData

type engineReportRequest struct {
	StockCode  string           `json:"stock_code"`
	ReportType string           `json:"report_type"`
	Data       *engineStockData `json:"data,omitempty"`
}

type engineReportResponse struct {
	Success bool   `json:"success"`
	Report  string `json:"report"`
	Error   string `json:"error"`
}

// FetchStockData pulls current market data for the code.
func (c *HTTPEngineClient) FetchStockData(ctx context.Context, stockCode string) (*engineStockData, error) {
	if c.base == "" {
		return nil, errors.New("engine url not configured")
	}
	log.Printf("engine fetch code=%s", stockCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/data/"+stockCode, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var textErr string
		_ = json.NewDecoder(resp.Body).Decode(&textErr)
		return nil, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, textErr)
	}

	var data engineStockData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	if data.StockCode == "" {
		data.StockCode = stockCode
	}
	return &data, nil
}

// GenerateReport asks the engine for a rendered report over the given data.
func (c *HTTPEngineClient) GenerateReport(ctx context.Context, stockCode, reportType string, data *engineStockData) (string, error) {
	if c.base == "" {
		return "", errors.New("engine url not configured")
	}

	payload := engineReportRequest{StockCode: stockCode, ReportType: reportType, Data: data}
	b, _ := json.Marshal(payload)
	log.Printf("engine report code=%s type=%s size=%dB", stockCode, reportType, len(b))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/report", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var textErr string
		_ = json.NewDecoder(resp.Body).Decode(&textErr)
		return "", fmt.Errorf("engine returned status %d: %s", resp.StatusCode, textErr)
	}

	var body engineReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if !body.Success {
		if body.Error == "" {
			body.Error = "engine reported failure without detail"
		}
		return "", errors.New(body.Error)
	}
	return body.Report, nil
}
