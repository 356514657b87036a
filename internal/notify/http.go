package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"example.com/cadence/internal/events"
)

// HTTPNotifier posts the invalidation signal to a presentation-layer webhook.
type HTTPNotifier struct {
	client *http.Client
	url    string
	token  string
	now    func() time.Time
}

// NewHTTPNotifier constructs an HTTPNotifier.
func NewHTTPNotifier(endpoint, token string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Notify POSTs a lead.tasks_changed payload.
func (h *HTTPNotifier) Notify(ctx context.Context, tenantID, leadID string) error {
	body, err := json.Marshal(events.LeadTasksChanged{
		TenantID:   tenantID,
		LeadID:     leadID,
		OccurredAt: h.now(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &DeliveryError{Status: resp.StatusCode}
	}
	return nil
}

// DeliveryError represents a non-successful webhook response.
type DeliveryError struct {
	Status int
}

func (e *DeliveryError) Error() string {
	return "tasks-changed webhook failed with status " + http.StatusText(e.Status)
}
