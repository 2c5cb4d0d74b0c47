// Package apiclient talks to the notification REST service.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/his-notify/internal/models"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http error: status=%d, body=%s", e.Code, strings.TrimSpace(e.Body))
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// New creates a client for baseURL (for example "http://localhost:8080")
// authenticating with a bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (c *Client) List(ctx context.Context, filters models.NotificationFilters) ([]models.Notification, error) {
	var resp struct {
		Notifications []models.Notification `json:"notifications"`
	}
	path := "/api/notifications"
	if q := encodeFilters(filters).Encode(); q != "" {
		path += "?" + q
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

func (c *Client) Stats(ctx context.Context) (models.NotificationStats, error) {
	stats := models.NewNotificationStats()
	if err := c.doJSON(ctx, http.MethodGet, "/api/notifications/stats", nil, &stats); err != nil {
		return models.NotificationStats{}, err
	}
	return stats, nil
}

func (c *Client) MarkRead(ctx context.Context, ids []string, isRead bool) error {
	body := models.MarkReadRequest{NotificationIDs: ids, IsRead: isRead}
	return c.doJSON(ctx, http.MethodPut, "/api/notifications/read", body, nil)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPut, "/api/notifications/read-all", nil, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Send(ctx context.Context, req models.SendRequest) ([]models.Notification, error) {
	var resp struct {
		Notifications []models.Notification `json:"notifications"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/notifications", req, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

func (c *Client) GetPreferences(ctx context.Context) (models.NotificationPreferences, error) {
	var prefs models.NotificationPreferences
	err := c.doJSON(ctx, http.MethodGet, "/api/notifications/preferences", nil, &prefs)
	return prefs, err
}

func (c *Client) UpdatePreferences(ctx context.Context, prefs models.NotificationPreferences) (models.NotificationPreferences, error) {
	var saved models.NotificationPreferences
	err := c.doJSON(ctx, http.MethodPut, "/api/notifications/preferences", prefs, &saved)
	return saved, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errors.Wrap(err, "decode response body")
		}
	}
	return nil
}

func encodeFilters(f models.NotificationFilters) url.Values {
	q := url.Values{}
	for _, t := range f.Types {
		q.Add("type", string(t))
	}
	for _, p := range f.Priorities {
		q.Add("priority", string(p))
	}
	if f.IsRead != nil {
		q.Set("isRead", strconv.FormatBool(*f.IsRead))
	}
	if f.DateFrom != nil {
		q.Set("dateFrom", f.DateFrom.UTC().Format(time.RFC3339))
	}
	if f.DateTo != nil {
		q.Set("dateTo", f.DateTo.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.IncludeExpired {
		q.Set("includeExpired", "true")
	}
	return q
}
