// Package mail предоставляет клиент почтового API и шаблоны
// транзакционных писем магазина IttrKart.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с почтовым API.
type Client struct {
	baseURL    string
	apiKey     string
	sender     string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент почтового API с указанным адресом, ключом и
// адресом отправителя.
func NewClient(baseURL, apiKey, sender string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		sender:     sender,
		httpClient: rc,
	}
}

type address struct {
	Email string `json:"email"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

// Send отправляет одно HTML-письмо указанному получателю.
func (c *Client) Send(ctx context.Context, to, subject, html string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("mail client not configured")
	}

	body, err := json.Marshal(sendRequest{
		Personalizations: []personalization{{To: []address{{Email: to}}}},
		From:             address{Email: c.sender},
		Subject:          subject,
		Content:          []content{{Type: "text/html", Value: html}},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/v3/mail/send"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return nil
}
