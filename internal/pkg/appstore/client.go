package appstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lukasweber/PitchPal/app/models"
)

// Upstream outcome classes. A 404 means "no information", never revocation;
// network failures and 5xx responses are transient and must not mutate local
// state.
var (
	ErrNotFound  = errors.New("appstore: subscription not found upstream")
	ErrTransient = errors.New("appstore: transient upstream error")
)

const (
	productionAPIBaseURL = "https://api.storekit.itunes.apple.com"
	sandboxAPIBaseURL    = "https://api.storekit-sandbox.itunes.apple.com"

	defaultRequestTimeout = 30 * time.Second
)

// LastTransaction is the most recent transaction the platform reports for a
// subscription group, with its numeric status code and the signed payloads
// still to be verified by the caller.
type LastTransaction struct {
	StatusCode            int
	OriginalTransactionID string
	SignedTransactionInfo string
	SignedRenewalInfo     string
}

type statusResponse struct {
	Data []struct {
		SubscriptionGroupIdentifier string `json:"subscriptionGroupIdentifier"`
		LastTransactions            []struct {
			Status                int    `json:"status"`
			OriginalTransactionID string `json:"originalTransactionId"`
			SignedTransactionInfo string `json:"signedTransactionInfo"`
			SignedRenewalInfo     string `json:"signedRenewalInfo"`
		} `json:"lastTransactions"`
	} `json:"data"`
}

// Client queries the App Store Server API with bearer service tokens.
type Client struct {
	httpClient *http.Client
	tokens     *TokenSource

	// Overridable in tests.
	productionBaseURL string
	sandboxBaseURL    string
}

// NewClient returns a client with a conservative request timeout so one
// hanging upstream call cannot stall a reconciliation batch.
func NewClient(tokens *TokenSource) *Client {
	return &Client{
		httpClient:        &http.Client{Timeout: defaultRequestTimeout},
		tokens:            tokens,
		productionBaseURL: productionAPIBaseURL,
		sandboxBaseURL:    sandboxAPIBaseURL,
	}
}

// GetSubscriptionStatus fetches the current status for an original
// transaction in the given environment. Returns (nil, nil) when the platform
// responds without any transaction data.
func (c *Client) GetSubscriptionStatus(ctx context.Context, originalTransactionID, environment string) (*LastTransaction, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("service token: %w", err)
	}

	baseURL := c.productionBaseURL
	if environment == models.EnvironmentSandbox {
		baseURL = c.sandboxBaseURL
	}

	url := fmt.Sprintf("%s/inApps/v1/subscriptions/%s", baseURL, originalTransactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, originalTransactionID)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: upstream returned %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("appstore: unexpected status %d for %s", resp.StatusCode, originalTransactionID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	var parsed statusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("appstore: invalid status response: %w", err)
	}

	if len(parsed.Data) == 0 || len(parsed.Data[0].LastTransactions) == 0 {
		return nil, nil
	}

	last := parsed.Data[0].LastTransactions[0]
	return &LastTransaction{
		StatusCode:            last.Status,
		OriginalTransactionID: last.OriginalTransactionID,
		SignedTransactionInfo: last.SignedTransactionInfo,
		SignedRenewalInfo:     last.SignedRenewalInfo,
	}, nil
}
