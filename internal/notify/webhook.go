package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"stratline/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs each notification as JSON to every active hook whose
// kind filter matches.
type WebhookNotifier struct {
	Hooks  []config.Webhook
	Client *http.Client
}

func NewWebhookNotifier(hooks []config.Webhook) *WebhookNotifier {
	return &WebhookNotifier{Hooks: hooks, Client: &http.Client{Timeout: defaultWebhookTimeout}}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	var failed []string
	for _, hook := range w.Hooks {
		if !hook.Active() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if !newKindFilter(hook.Kinds).match(n.Kind) {
			continue
		}
		if err := w.post(ctx, hook, n, data); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", hook.ID, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("webhook delivery failed: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, hook config.Webhook, n Notification, data []byte) error {
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		timeout := time.Duration(hook.TimeoutSeconds) * time.Second
		if timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stratline-Kind", n.Kind)
	req.Header.Set("X-Stratline-Delivery", uuid.NewString())
	req.Header.Set("X-Stratline-Org", n.OrgID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Stratline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type kindFilter struct {
	all bool
	set map[string]struct{}
}

func newKindFilter(kinds []string) kindFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		if key := strings.TrimSpace(k); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return kindFilter{all: true}
	}
	return kindFilter{set: set}
}

func (f kindFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
