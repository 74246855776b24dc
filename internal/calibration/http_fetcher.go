package calibration

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPFetcher reads calibration documents from the calibration API
type HTTPFetcher struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPFetcher creates a fetcher against baseURL
func NewHTTPFetcher(baseURL, apiToken string, timeout time.Duration, logger *zap.Logger) *HTTPFetcher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")
	if apiToken != "" {
		client.SetAuthToken(apiToken)
	}

	return &HTTPFetcher{
		httpClient: client,
		logger:     logger,
	}
}

// FetchCalibration GET /calibrations/{prefix}; 404 means the device has none
func (f *HTTPFetcher) FetchCalibration(ctx context.Context, prefix string) (*DeviceCalibration, error) {
	resp, err := f.httpClient.R().
		SetContext(ctx).
		SetPathParam("prefix", prefix).
		Get("/calibrations/{prefix}")
	if err != nil {
		return nil, fmt.Errorf("failed to call calibration API: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, nil
	case resp.IsError():
		f.logger.Error("Calibration API returned error",
			zap.String("serial_prefix", prefix),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, fmt.Errorf("calibration API error: status %d", resp.StatusCode())
	}

	return ParseDocument(prefix, resp.Body())
}
