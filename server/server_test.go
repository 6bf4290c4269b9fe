package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/schmich/upspace/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, handler http.Handler, method string, target string, body string, headers map[string]string, out interface{}) int {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func login(t *testing.T, server *Server, email string) storage.ClaimResponse {
	var authorize storage.AuthorizeResponse
	code := do(t, server, "POST", "/access/authorize", `{"email":"`+email+`"}`, nil, &authorize)
	require.Equal(t, http.StatusOK, code)

	var confirmed storage.ClaimResponse
	code = do(t, server, "GET", "/access/confirm?request_id="+authorize.RequestID, "", nil, &confirmed)
	require.Equal(t, http.StatusOK, code)

	var claim storage.ClaimResponse
	code = do(t, server, "GET", "/access/claim?request_id="+authorize.RequestID, "", nil, &claim)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, storage.ClaimConfirmed, claim.Status)
	return claim
}

func TestLoginFlow(t *testing.T) {
	server := New(storage.NewInMemoryClient(), Options{})

	var authorize storage.AuthorizeResponse
	require.Equal(t, http.StatusOK, do(t, server, "POST", "/access/authorize", `{"email":"alice@example.com"}`, nil, &authorize))
	assert.NotEmpty(t, authorize.RequestID)
	assert.Equal(t, []string{authorize.RequestID}, server.Pending())

	var claim storage.ClaimResponse
	do(t, server, "GET", "/access/claim?request_id="+authorize.RequestID, "", nil, &claim)
	assert.Equal(t, storage.ClaimPending, claim.Status)

	require.NoError(t, server.Confirm(authorize.RequestID))
	assert.Empty(t, server.Pending())

	do(t, server, "GET", "/access/claim?request_id="+authorize.RequestID, "", nil, &claim)
	assert.Equal(t, storage.ClaimConfirmed, claim.Status)
	assert.Equal(t, "did:mailto:example.com:alice", claim.Account)
	assert.NotEmpty(t, claim.Token)

	var gone storage.ClaimResponse
	code := do(t, server, "GET", "/access/claim?request_id="+authorize.RequestID, "", nil, &gone)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, gone.Error)
}

func TestLoginExpires(t *testing.T) {
	server := New(storage.NewInMemoryClient(), Options{RequestTTL: time.Minute})
	now := time.Now()
	server.now = func() time.Time { return now }

	var authorize storage.AuthorizeResponse
	do(t, server, "POST", "/access/authorize", `{"email":"alice@example.com"}`, nil, &authorize)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, server.Confirm(authorize.RequestID), storage.ErrLoginExpired)

	var claim storage.ClaimResponse
	do(t, server, "GET", "/access/claim?request_id="+authorize.RequestID, "", nil, &claim)
	assert.Equal(t, storage.ClaimExpired, claim.Status)
}

func TestAuthorizeRejectsBadEmail(t *testing.T) {
	server := New(storage.NewInMemoryClient(), Options{})

	var response storage.AuthorizeResponse
	assert.Equal(t, http.StatusBadRequest, do(t, server, "POST", "/access/authorize", `{"email":"nobody"}`, nil, &response))
	assert.NotEmpty(t, response.Error)

	assert.Equal(t, http.StatusBadRequest, do(t, server, "POST", "/access/authorize", `{`, nil, &response))
}

func TestSpaceAndUpload(t *testing.T) {
	backend := storage.NewInMemoryClient()
	server := New(backend, Options{})
	claim := login(t, server, "alice@example.com")
	auth := map[string]string{"Authorization": "Bearer " + claim.Token}

	var space storage.CreateSpaceResponse
	code := do(t, server, "POST", "/space/create", `{"name":"ai-agent-langchain","account":"`+claim.Account+`"}`, auth, &space)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(space.DID, "did:key:"))

	headers := map[string]string{"Authorization": auth["Authorization"], storage.HeaderFileName: "faiss_index.idx"}
	var upload storage.UploadResponse
	code = do(t, server, "POST", "/upload?space="+space.DID, "payload", headers, &upload)
	require.Equal(t, http.StatusOK, code)

	stored, err := backend.Blob(storage.CID(upload.CID))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), stored)

	uploads := backend.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "faiss_index.idx", uploads[0].Name)
}

func TestAccessControl(t *testing.T) {
	server := New(storage.NewInMemoryClient(), Options{AutoConfirm: true})
	alice := login(t, server, "alice@example.com")
	bob := login(t, server, "bob@example.com")

	var failure storage.CreateSpaceResponse
	assert.Equal(t, http.StatusUnauthorized, do(t, server, "POST", "/space/create", `{"name":"x"}`, nil, &failure))

	bobAuth := map[string]string{"Authorization": "Bearer " + bob.Token}
	body := `{"name":"x","account":"` + alice.Account + `"}`
	assert.Equal(t, http.StatusForbidden, do(t, server, "POST", "/space/create", body, bobAuth, &failure))

	aliceAuth := map[string]string{"Authorization": "Bearer " + alice.Token}
	assert.Equal(t, http.StatusBadRequest, do(t, server, "POST", "/space/create", `{"name":"","account":"`+alice.Account+`"}`, aliceAuth, &failure))

	var space storage.CreateSpaceResponse
	require.Equal(t, http.StatusOK, do(t, server, "POST", "/space/create", body, aliceAuth, &space))

	var upload storage.UploadResponse
	headers := map[string]string{"Authorization": bobAuth["Authorization"], storage.HeaderFileName: "a"}
	assert.Equal(t, http.StatusForbidden, do(t, server, "POST", "/upload?space="+space.DID, "x", headers, &upload))
	assert.Equal(t, http.StatusNotFound, do(t, server, "POST", "/upload?space=did:key:zNope", "x", headers, &upload))

	assert.Equal(t, http.StatusBadRequest, do(t, server, "POST", "/upload?space="+space.DID, "x", aliceAuth, &upload))
}

func TestHealth(t *testing.T) {
	server := New(storage.NewInMemoryClient(), Options{})

	var health storage.HealthResponse
	assert.Equal(t, http.StatusOK, do(t, server, "GET", "/health", "", nil, &health))
	assert.Equal(t, "ok", health.Status)
}
