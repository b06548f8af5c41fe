package service

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/smartcity/trafficcore/internal/domain"
)

// WebhookNotifier posts control results to caller-supplied URLs
type WebhookNotifier struct {
	httpClient *http.Client

	wgBg sync.WaitGroup // tracks in-flight deliveries for graceful shutdown
}

// NewWebhookNotifier creates a notifier with a bounded request timeout
func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Notify posts the result as JSON to url
func (n *WebhookNotifier) Notify(ctx context.Context, url string, result domain.ControlResult) error {
	body, err := sonnet.Marshal(result)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

// NotifyAsync delivers in the background; failures are only logged
func (n *WebhookNotifier) NotifyAsync(url string, result domain.ControlResult) {
	if url == "" {
		return
	}
	n.wgBg.Add(1)
	go func() {
		defer n.wgBg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
		defer cancel()
		if err := n.Notify(ctx, url, result); err != nil {
			log.Printf("[Webhook] %v", err)
			return
		}
		log.Printf("[Webhook] Result for %s sent to %s", result.ControllerID, url)
	}()
}

// WaitBackground blocks until all background deliveries complete
func (n *WebhookNotifier) WaitBackground() {
	n.wgBg.Wait()
}
