package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fjod/scancart/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxFrameBytes = 8 << 20

// HTTPSnapshotDevice reads single JPEG frames from an IP camera snapshot endpoint.
type HTTPSnapshotDevice struct {
	url    string
	client *http.Client
	closed atomic.Bool
}

func NewHTTPSnapshotDevice(url string, client *http.Client) *HTTPSnapshotDevice {
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   5 * time.Second,
		}
	}
	return &HTTPSnapshotDevice{url: url, client: client}
}

func (d *HTTPSnapshotDevice) Ready() bool {
	return d.url != "" && !d.closed.Load()
}

// Close tears the device down; later captures report ErrDeviceTeardown.
func (d *HTTPSnapshotDevice) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *HTTPSnapshotDevice) Capture(ctx context.Context) (domain.Frame, error) {
	if d.closed.Load() {
		return domain.Frame{}, domain.ErrDeviceTeardown
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return domain.Frame{}, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if d.closed.Load() {
			return domain.Frame{}, domain.ErrDeviceTeardown
		}
		return domain.Frame{}, fmt.Errorf("snapshot request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.Frame{}, fmt.Errorf("snapshot status %d: %w", resp.StatusCode, domain.ErrPermissionDenied)
	case resp.StatusCode != http.StatusOK:
		return domain.Frame{}, fmt.Errorf("snapshot status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return domain.Frame{}, fmt.Errorf("read snapshot: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return domain.Frame{
		Data:        data,
		ContentType: contentType,
		CapturedAt:  time.Now(),
		TraceID:     uuid.NewString(),
	}, nil
}
