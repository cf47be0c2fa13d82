package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tge-sentinel/internal/model"
	"github.com/sells-group/tge-sentinel/internal/resilience"
	"github.com/sells-group/tge-sentinel/internal/store"
)

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, alert model.Alert) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, alert model.Alert) error { return f(ctx, alert) }

// JSONLSink writes one alert per line.
type JSONLSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLSink creates a sink writing to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{enc: json.NewEncoder(w)}
}

// Emit writes alert as a JSON line.
func (s *JSONLSink) Emit(_ context.Context, alert model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(alert); err != nil {
		return eris.Wrap(err, "pipeline: write alert")
	}
	return nil
}

// WebhookSink POSTs each alert as JSON to a URL, retrying transient
// failures.
type WebhookSink struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
}

// NewWebhookSink creates a webhook sink. A zero timeout defaults to 10s.
func NewWebhookSink(url string, timeout time.Duration, retry resilience.RetryConfig) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry.OnRetry = resilience.RetryLogger("pipeline.webhook", "emit")
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry:  retry,
	}
}

// Emit delivers alert. 408, 425, 429 and 5xx responses are retried.
func (s *WebhookSink) Emit(ctx context.Context, alert model.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal alert")
	}
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.post(ctx, payload)
	})
}

func (s *WebhookSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "pipeline: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "pipeline: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		err := eris.Errorf("pipeline: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}

// StoreSink records alerts in a store.
type StoreSink struct {
	store store.Store
}

// NewStoreSink creates a sink saving to st.
func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{store: st}
}

// Emit saves alert. Saving an alert twice is a no-op.
func (s *StoreSink) Emit(ctx context.Context, alert model.Alert) error {
	rec, err := store.NewAlertRecord(alert)
	if err != nil {
		return err
	}
	if err := s.store.SaveAlerts(ctx, []store.AlertRecord{rec}); err != nil {
		return eris.Wrap(err, "pipeline: store alert")
	}
	return nil
}

// MultiSink emits to every sink and joins their errors.
type MultiSink []Sink

// Emit calls every sink even when one fails.
func (m MultiSink) Emit(ctx context.Context, alert model.Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
