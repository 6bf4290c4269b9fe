package storage

import "time"

// Bridge protocol messages exchanged by HTTPClient and the server package.
// Every response may carry Error instead of its payload.

const (
	ClaimPending   = "pending"
	ClaimConfirmed = "confirmed"
	ClaimExpired   = "expired"

	HeaderFileName  = "X-File-Name"
	HeaderRequestID = "X-Request-Id"
)

type HealthResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type AuthorizeRequest struct {
	Email string `json:"email"`
}

type AuthorizeResponse struct {
	RequestID string    `json:"request_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type ClaimResponse struct {
	Status  string `json:"status,omitempty"`
	Account string `json:"account,omitempty"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CreateSpaceRequest struct {
	Name    string `json:"name"`
	Account string `json:"account"`
}

type CreateSpaceResponse struct {
	DID   string `json:"did,omitempty"`
	Error string `json:"error,omitempty"`
}

type UploadResponse struct {
	CID   string `json:"cid,omitempty"`
	Error string `json:"error,omitempty"`
}
