package backend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fjod/scancart/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Client talks to the remote session/detection backend.
// Frame uploads run through their own breaker so a failing frame endpoint
// never trips pairing or finalize.
type Client struct {
	rest   *restClient
	frames *restClient
	sfg    singleflight.Group // concurrent payload fetches for one session share a call
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		rest:   newRestClient("backend", baseURL, httpClient),
		frames: newRestClient("backend-frames", baseURL, httpClient),
	}
}

type createSessionResponse struct {
	Status         string `json:"status"`
	SessionID      string `json:"session_id"`
	PairingToken   string `json:"pairing_token"`
	TokenExpiresAt string `json:"token_expires_at"`
	CartID         string `json:"cart_id"`
}

type qrCodeResponse struct {
	SessionID      string `json:"session_id"`
	PairingToken   string `json:"pairing_token"`
	TokenExpiresAt string `json:"token_expires_at"`
	QRCode         string `json:"qr_code"`
}

type pairRequest struct {
	PairingToken string `json:"pairing_token"`
	PhoneID      string `json:"phone_id,omitempty"`
}

type pairResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	CartID    string `json:"cart_id"`
}

type pairingStatusResponse struct {
	SessionID  string `json:"session_id"`
	IsPaired   bool   `json:"is_paired"`
	TokenValid bool   `json:"token_valid"`
	PairedAt   string `json:"paired_at"`
	PhoneID    string `json:"phone_id"`
}

type inventoryItemRequest struct {
	Barcode string  `json:"barcode"`
	Name    string  `json:"name,omitempty"`
	Price   float64 `json:"price,omitempty"`
}

type inventoryQtyRequest struct {
	Qty int `json:"qty"`
}

type checkoutResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// CreateSession allocates a new session server-side.
func (c *Client) CreateSession(ctx context.Context) (*domain.PairingTicket, error) {
	resp, err := c.rest.doJSON(ctx, http.MethodPost, "/api/sessions/", map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if resp.status != http.StatusCreated && resp.status != http.StatusOK {
		return nil, fmt.Errorf("create session: status %d %s: %w", resp.status, resp.message(), domain.ErrServiceUnavailable)
	}

	var body createSessionResponse
	if err := resp.decode(&body); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if body.SessionID == "" {
		return nil, fmt.Errorf("create session: empty session id: %w", domain.ErrServiceUnavailable)
	}

	return &domain.PairingTicket{
		SessionID:      body.SessionID,
		CartID:         body.CartID,
		Token:          body.PairingToken,
		TokenExpiresAt: parseTimestamp(body.TokenExpiresAt),
	}, nil
}

// PairingPayload fetches the encodable pairing payload for display.
func (c *Client) PairingPayload(ctx context.Context, sessionID string) (string, error) {
	v, err, _ := c.sfg.Do(sessionID, func() (interface{}, error) {
		resp, err := c.rest.doJSON(ctx, http.MethodGet, sessionPath(sessionID, "qrcode"), nil)
		if err != nil {
			return "", err
		}
		if resp.status == http.StatusNotFound {
			return "", fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionMissing)
		}
		if err := pairingStatusError(resp); err != nil {
			return "", err
		}

		var body qrCodeResponse
		if err := resp.decode(&body); err != nil {
			return "", err
		}
		return body.QRCode, nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch pairing payload: %w", err)
	}
	return v.(string), nil
}

// Pair claims the session identified by a scanned pairing code.
func (c *Client) Pair(ctx context.Context, code, deviceID string) (string, error) {
	resp, err := c.rest.doJSON(ctx, http.MethodPost, "/api/pair", pairRequest{
		PairingToken: code,
		PhoneID:      deviceID,
	})
	if err != nil {
		return "", fmt.Errorf("pair: %w", err)
	}
	if err := pairingStatusError(resp); err != nil {
		return "", fmt.Errorf("pair: %w", err)
	}

	var body pairResponse
	if err := resp.decode(&body); err != nil {
		return "", fmt.Errorf("pair: %w", err)
	}
	if body.SessionID == "" {
		return "", fmt.Errorf("pair: empty session id: %w", domain.ErrPairingConflict)
	}
	return body.SessionID, nil
}

// PairingStatus reports whether a phone has claimed the session.
func (c *Client) PairingStatus(ctx context.Context, sessionID string) (domain.PairingStatus, error) {
	resp, err := c.rest.doJSON(ctx, http.MethodGet, sessionPath(sessionID, "pairing-status"), nil)
	if err != nil {
		return domain.PairingStatus{}, fmt.Errorf("pairing status: %w", err)
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.PairingStatus{}, fmt.Errorf("pairing status %s: %w", sessionID, domain.ErrSessionMissing)
	default:
		return domain.PairingStatus{}, fmt.Errorf("pairing status: status %d %s: %w", resp.status, resp.message(), domain.ErrServiceUnavailable)
	}

	var body pairingStatusResponse
	if err := resp.decode(&body); err != nil {
		return domain.PairingStatus{}, fmt.Errorf("pairing status: %w", err)
	}
	return domain.PairingStatus{
		SessionID:  sessionID,
		Paired:     body.IsPaired,
		TokenValid: body.TokenValid,
		PairedAt:   parseTimestamp(body.PairedAt),
		PhoneID:    body.PhoneID,
	}, nil
}

// UploadFrame posts one captured frame. The response body is ignored.
func (c *Client) UploadFrame(ctx context.Context, sessionID string, frame domain.Frame) error {
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	resp, err := c.frames.do(ctx, http.MethodPost, sessionPath(sessionID, "frames"), bytes.NewReader(frame.Data), contentType)
	if err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}
	if resp.status >= http.StatusBadRequest {
		return fmt.Errorf("upload frame: status %d: %w", resp.status, domain.ErrTransientNetwork)
	}
	return nil
}

// StartCapture is a best-effort hint that frames are about to arrive.
func (c *Client) StartCapture(ctx context.Context, sessionID string) error {
	resp, err := c.rest.doJSON(ctx, http.MethodPost, sessionPath(sessionID, "capture/start"), nil)
	if err != nil {
		return fmt.Errorf("start capture hint: %w", err)
	}
	if resp.status >= http.StatusBadRequest {
		return fmt.Errorf("start capture hint: status %d", resp.status)
	}
	return nil
}

// Finalize marks the session checked out. Repeated calls are safe.
func (c *Client) Finalize(ctx context.Context, sessionID string) error {
	resp, err := c.rest.doJSON(ctx, http.MethodPut, sessionPath(sessionID, "checkout"), nil)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	switch resp.status {
	case http.StatusOK, http.StatusNoContent:
	case http.StatusNotFound:
		return fmt.Errorf("finalize session %s: %w", sessionID, domain.ErrSessionMissing)
	default:
		return fmt.Errorf("finalize session: status %d %s: %w", resp.status, resp.message(), domain.ErrFinalizeFailed)
	}

	var body checkoutResponse
	if len(resp.body) > 0 {
		if err := resp.decode(&body); err != nil {
			return fmt.Errorf("finalize session: %w", err)
		}
	}
	return nil
}

// AddItem puts one unit of item into the session's remote cart record. The
// backend increments the quantity when the barcode is already present.
func (c *Client) AddItem(ctx context.Context, sessionID string, item domain.LocalCartItem) error {
	resp, err := c.rest.doJSON(ctx, http.MethodPost, inventoryPath(sessionID, ""), inventoryItemRequest{
		Barcode: item.ID,
		Name:    item.Name,
		Price:   item.UnitPrice,
	})
	if err != nil {
		return fmt.Errorf("add item %s: %w", item.ID, err)
	}
	return inventoryStatusError("add item "+item.ID, resp)
}

// SetItemQuantity overwrites the quantity of an item already in the remote record.
func (c *Client) SetItemQuantity(ctx context.Context, sessionID, itemID string, qty int) error {
	resp, err := c.rest.doJSON(ctx, http.MethodPut, inventoryPath(sessionID, itemID), inventoryQtyRequest{Qty: qty})
	if err != nil {
		return fmt.Errorf("set quantity of %s: %w", itemID, err)
	}
	return inventoryStatusError("set quantity of "+itemID, resp)
}

func (c *Client) RemoveItem(ctx context.Context, sessionID, itemID string) error {
	resp, err := c.rest.doJSON(ctx, http.MethodDelete, inventoryPath(sessionID, itemID), nil)
	if err != nil {
		return fmt.Errorf("remove item %s: %w", itemID, err)
	}
	if resp.status == http.StatusNotFound {
		return fmt.Errorf("remove item %s: %w", itemID, domain.ErrSessionMissing)
	}
	return inventoryStatusError("remove item "+itemID, resp)
}

func inventoryStatusError(op string, resp *response) error {
	switch resp.status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusBadRequest, http.StatusNotFound:
		return fmt.Errorf("%s: %s: %w", op, resp.message(), domain.ErrInvalidItem)
	default:
		return fmt.Errorf("%s: status %d %s: %w", op, resp.status, resp.message(), domain.ErrServiceUnavailable)
	}
}

func pairingStatusError(resp *response) error {
	switch resp.status {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusNotFound, http.StatusConflict, http.StatusGone:
		return fmt.Errorf("%s: %w", resp.message(), domain.ErrPairingConflict)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request %s: %w", resp.message(), domain.ErrPairingConflict)
	default:
		return fmt.Errorf("status %d %s: %w", resp.status, resp.message(), domain.ErrServiceUnavailable)
	}
}

func sessionPath(sessionID, suffix string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/" + suffix
}

func inventoryPath(sessionID, itemID string) string {
	p := "/api/inventory/" + url.PathEscape(sessionID) + "/items"
	if itemID != "" {
		p += "/" + url.PathEscape(itemID)
	}
	return p
}
