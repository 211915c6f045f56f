package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/scancart/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func setupServer(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.Client())
}

func TestCreateSession_Success(t *testing.T) {
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sessions/", r.URL.Path)
		respondJSON(w, http.StatusCreated, map[string]string{
			"status":           "created",
			"session_id":       "session_abc",
			"pairing_token":    "tok123",
			"token_expires_at": "2026-01-10T12:00:00.123456",
			"cart_id":          "cart_1",
		})
	})

	ticket, err := client.CreateSession(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "session_abc", ticket.SessionID)
	assert.Equal(t, "tok123", ticket.Token)
	assert.Equal(t, "cart_1", ticket.CartID)
	assert.Equal(t, 2026, ticket.TokenExpiresAt.Year())
}

func TestCreateSession_ServerError(t *testing.T) {
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "db down"})
	})

	_, err := client.CreateSession(context.Background())

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestPairingPayload_SharesConcurrentFetches(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		respondJSON(w, http.StatusOK, map[string]string{
			"session_id": "s1",
			"qr_code":    "data:image/png;base64,AAAA",
		})
	})

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, err := client.PairingPayload(context.Background(), "s1")
			assert.NoError(t, err)
			results[i] = payload
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "data:image/png;base64,AAAA", r)
	}
}

func TestPairingPayload_SessionMissing(t *testing.T) {
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
	})

	_, err := client.PairingPayload(context.Background(), "gone")

	assert.ErrorIs(t, err, domain.ErrSessionMissing)
}

func TestPair(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    map[string]string
		want    string
		wantErr error
	}{
		{name: "paired", status: http.StatusOK, body: map[string]string{"status": "paired", "session_id": "s1"}, want: "s1"},
		{name: "invalid token", status: http.StatusNotFound, body: map[string]string{"error": "Invalid pairing token"}, wantErr: domain.ErrPairingConflict},
		{name: "already paired", status: http.StatusConflict, body: map[string]string{"error": "Session already paired"}, wantErr: domain.ErrPairingConflict},
		{name: "expired", status: http.StatusGone, body: map[string]string{"error": "Pairing token has expired"}, wantErr: domain.ErrPairingConflict},
		{name: "server error", status: http.StatusBadGateway, body: map[string]string{"error": "upstream"}, wantErr: domain.ErrServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
				var req pairRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "code-1", req.PairingToken)
				assert.Equal(t, "device-1", req.PhoneID)
				respondJSON(w, tt.status, tt.body)
			})

			sessionID, err := client.Pair(context.Background(), "code-1", "device-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sessionID)
		})
	}
}

func TestUploadFrame_SendsBinaryBody(t *testing.T) {
	var got []byte
	var contentType string
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/s1/frames", r.URL.Path)
		contentType = r.Header.Get("Content-Type")
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	})

	err := client.UploadFrame(context.Background(), "s1", domain.Frame{Data: []byte{0xff, 0xd8, 0x01}})

	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0x01}, got)
	assert.Equal(t, "image/jpeg", contentType)
}

func TestFinalize_Idempotent(t *testing.T) {
	var calls atomic.Int32
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/sessions/s1/checkout", r.URL.Path)
		calls.Add(1)
		respondJSON(w, http.StatusOK, map[string]string{"status": "checked_out", "session_id": "s1"})
	})

	require.NoError(t, client.Finalize(context.Background(), "s1"))
	require.NoError(t, client.Finalize(context.Background(), "s1"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFinalize_NotFound(t *testing.T) {
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
	})

	err := client.Finalize(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrSessionMissing)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 5; i++ {
		err := client.StartCapture(context.Background(), "s1")
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	}
	err := client.StartCapture(context.Background(), "s1")

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Equal(t, int32(5), calls.Load())
}

func TestUploadFailuresDoNotBlockFinalizeOrPair(t *testing.T) {
	var finalizeCalls, pairCalls atomic.Int32
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sessions/s1/frames":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/api/sessions/s1/checkout":
			finalizeCalls.Add(1)
			respondJSON(w, http.StatusOK, map[string]string{"status": "checked_out"})
		case "/api/pair":
			pairCalls.Add(1)
			respondJSON(w, http.StatusOK, map[string]string{"status": "paired", "session_id": "s1"})
		}
	})

	for i := 0; i < 10; i++ {
		err := client.UploadFrame(context.Background(), "s1", domain.Frame{Data: []byte{0xff}})
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	}

	require.NoError(t, client.Finalize(context.Background(), "s1"))
	sessionID, err := client.Pair(context.Background(), "code", "")
	require.NoError(t, err)
	assert.Equal(t, "s1", sessionID)
	assert.Equal(t, int32(1), finalizeCalls.Load())
	assert.Equal(t, int32(1), pairCalls.Load())
}

func TestPairingStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    map[string]interface{}
		paired  bool
		wantErr error
	}{
		{
			name:   "waiting",
			status: http.StatusOK,
			body:   map[string]interface{}{"session_id": "s1", "is_paired": false, "token_valid": true, "paired_at": nil, "phone_id": nil},
		},
		{
			name:   "paired",
			status: http.StatusOK,
			body: map[string]interface{}{
				"session_id":  "s1",
				"is_paired":   true,
				"token_valid": true,
				"paired_at":   "2026-01-02T10:00:00.123456",
				"phone_id":    "phone-1",
			},
			paired: true,
		},
		{
			name:    "missing",
			status:  http.StatusNotFound,
			body:    map[string]interface{}{"error": "Session not found"},
			wantErr: domain.ErrSessionMissing,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    map[string]interface{}{"error": "boom"},
			wantErr: domain.ErrServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/sessions/s1/pairing-status", r.URL.Path)
				respondJSON(w, tt.status, tt.body)
			})

			status, err := client.PairingStatus(context.Background(), "s1")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "s1", status.SessionID)
			assert.Equal(t, tt.paired, status.Paired)
			if tt.paired {
				assert.Equal(t, "phone-1", status.PhoneID)
				assert.False(t, status.PairedAt.IsZero())
			}
		})
	}
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		respondJSON(w, http.StatusConflict, map[string]string{"error": "Session already paired"})
	})

	for i := 0; i < 7; i++ {
		_, err := client.Pair(context.Background(), "code", "")
		assert.ErrorIs(t, err, domain.ErrPairingConflict)
	}

	assert.Equal(t, int32(7), calls.Load())
}

func TestParseTimestamp(t *testing.T) {
	assert.Equal(t, 2026, parseTimestamp("2026-03-01T10:00:00Z").Year())
	assert.Equal(t, 2026, parseTimestamp("2026-03-01T10:00:00.5").Year())
	assert.True(t, parseTimestamp("garbage").IsZero())
}

func TestInventoryMutations(t *testing.T) {
	type call struct {
		method string
		path   string
		body   map[string]interface{}
	}
	var mu sync.Mutex
	var calls []call
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, call{method: r.Method, path: r.URL.Path, body: body})
		mu.Unlock()
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "session_id": "s1"})
	})

	require.NoError(t, client.AddItem(context.Background(), "s1", domain.LocalCartItem{ID: "0123", Name: "Milk", UnitPrice: 2.5}))
	require.NoError(t, client.SetItemQuantity(context.Background(), "s1", "0123", 3))
	require.NoError(t, client.RemoveItem(context.Background(), "s1", "0123"))

	require.Len(t, calls, 3)
	assert.Equal(t, http.MethodPost, calls[0].method)
	assert.Equal(t, "/api/inventory/s1/items", calls[0].path)
	assert.Equal(t, "0123", calls[0].body["barcode"])
	assert.Equal(t, "Milk", calls[0].body["name"])
	assert.Equal(t, 2.5, calls[0].body["price"])
	assert.Equal(t, http.MethodPut, calls[1].method)
	assert.Equal(t, "/api/inventory/s1/items/0123", calls[1].path)
	assert.Equal(t, float64(3), calls[1].body["qty"])
	assert.Equal(t, http.MethodDelete, calls[2].method)
	assert.Equal(t, "/api/inventory/s1/items/0123", calls[2].path)
}

func TestInventoryMutations_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		call    func(c *Client) error
		wantErr error
	}{
		{
			name:    "unknown item",
			status:  http.StatusNotFound,
			call:    func(c *Client) error { return c.SetItemQuantity(context.Background(), "s1", "x", 2) },
			wantErr: domain.ErrInvalidItem,
		},
		{
			name:    "missing barcode",
			status:  http.StatusBadRequest,
			call:    func(c *Client) error { return c.AddItem(context.Background(), "s1", domain.LocalCartItem{}) },
			wantErr: domain.ErrInvalidItem,
		},
		{
			name:    "inventory gone",
			status:  http.StatusNotFound,
			call:    func(c *Client) error { return c.RemoveItem(context.Background(), "s1", "x") },
			wantErr: domain.ErrSessionMissing,
		},
		{
			name:    "server down",
			status:  http.StatusBadGateway,
			call:    func(c *Client) error { return c.RemoveItem(context.Background(), "s1", "x") },
			wantErr: domain.ErrServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
				respondJSON(w, tt.status, map[string]string{"error": "nope"})
			})

			assert.ErrorIs(t, tt.call(client), tt.wantErr)
		})
	}
}
