package disputes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/models"
)

// Notifier delivers the "server placed under validation" notices. The user
// notice and the support notice are independent sends: a support failure
// never affects the user-facing delivery and vice versa.
type Notifier interface {
	NotifyServerValidation(ctx context.Context, user *models.User, servers []models.Server) error
	NotifySupportValidation(ctx context.Context, user *models.User, servers []models.Server) error
}

type validationNotice struct {
	Template  string   `json:"template"`
	Recipient string   `json:"recipient,omitempty"`
	UserId    int      `json:"user_id"`
	UserName  string   `json:"user_name"`
	Servers   []string `json:"servers"`
}

type webhookNotifier struct {
	notifyURL  string
	supportURL string
	http       *http.Client
}

// NewWebhookNotifier posts notices to the notification service (user
// emails) and the support channel webhook.
func NewWebhookNotifier() (Notifier, error) {
	notifyURL := strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL"))
	if notifyURL == "" {
		return nil, errors.New("NOTIFY_WEBHOOK_URL is required")
	}
	return &webhookNotifier{
		notifyURL:  notifyURL,
		supportURL: strings.TrimSpace(os.Getenv("SUPPORT_WEBHOOK_URL")),
		http:       &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (n *webhookNotifier) NotifyServerValidation(ctx context.Context, user *models.User, servers []models.Server) error {
	return n.post(ctx, n.notifyURL, validationNotice{
		Template:  "server_validation",
		Recipient: user.Email,
		UserId:    user.ID,
		UserName:  user.Name,
		Servers:   serverNames(servers),
	})
}

func (n *webhookNotifier) NotifySupportValidation(ctx context.Context, user *models.User, servers []models.Server) error {
	if n.supportURL == "" {
		return nil
	}
	return n.post(ctx, n.supportURL, validationNotice{
		Template: "server_validation",
		UserId:   user.ID,
		UserName: user.Name,
		Servers:  serverNames(servers),
	})
}

func (n *webhookNotifier) post(ctx context.Context, url string, payload validationNotice) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func serverNames(servers []models.Server) []string {
	names := make([]string, 0, len(servers))
	for _, s := range servers {
		names = append(names, s.Identifier)
	}
	return names
}
