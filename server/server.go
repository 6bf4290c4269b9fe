// Package server implements the storage bridge protocol spoken by
// storage.HTTPClient on top of any storage.Client.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schmich/upspace/did"
	"github.com/schmich/upspace/storage"
	log "github.com/sirupsen/logrus"
)

const DefaultRequestTTL = 15 * time.Minute

type Options struct {
	// AutoConfirm confirms login requests as soon as they are made.
	AutoConfirm bool
	// RequestTTL is how long a login request may stay unconfirmed.
	RequestTTL time.Duration
}

type Server struct {
	backend storage.Client
	options Options
	mux     *http.ServeMux
	now     func() time.Time

	mutex    sync.Mutex
	requests map[string]*loginRequest
	sessions map[string]*storage.Account
	spaces   map[string]*storage.Space
}

type loginRequest struct {
	email   string
	expires time.Time
	account *storage.Account
}

type httpError struct {
	status int
	err    error
}

func (e *httpError) Error() string {
	return e.err.Error()
}

func fail(status int, format string, args ...interface{}) error {
	return &httpError{status: status, err: fmt.Errorf(format, args...)}
}

func New(backend storage.Client, options Options) *Server {
	if options.RequestTTL <= 0 {
		options.RequestTTL = DefaultRequestTTL
	}

	server := &Server{
		backend:  backend,
		options:  options,
		mux:      http.NewServeMux(),
		now:      time.Now,
		requests: make(map[string]*loginRequest),
		sessions: make(map[string]*storage.Account),
		spaces:   make(map[string]*storage.Space),
	}

	server.mux.HandleFunc("GET /health", server.handle(server.health))
	server.mux.HandleFunc("POST /access/authorize", server.handle(server.authorize))
	server.mux.HandleFunc("GET /access/claim", server.handle(server.claim))
	server.mux.HandleFunc("GET /access/confirm", server.handle(server.confirm))
	server.mux.HandleFunc("POST /space/create", server.handle(server.createSpace))
	server.mux.HandleFunc("POST /upload", server.handle(server.upload))
	return server
}

func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	server.mux.ServeHTTP(w, r)
}

// Confirm completes a pending login request, as following the emailed link would.
func (server *Server) Confirm(requestID string) error {
	server.mutex.Lock()
	request, ok := server.requests[requestID]
	server.mutex.Unlock()

	if !ok {
		return fmt.Errorf("unknown login request \"%s\"", requestID)
	}

	if server.now().After(request.expires) {
		return storage.ErrLoginExpired
	}

	account, err := server.backend.Login(context.Background(), request.email)
	if err != nil {
		return err
	}

	account.Token = uuid.NewString()

	server.mutex.Lock()
	defer server.mutex.Unlock()
	request.account = account
	server.sessions[account.Token] = account
	return nil
}

// Pending lists the ids of login requests awaiting confirmation.
func (server *Server) Pending() []string {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	var ids []string
	for id, request := range server.requests {
		if request.account == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (server *Server) handle(run func(*http.Request) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithFields(log.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"request": r.Header.Get(storage.HeaderRequestID),
		})

		response, err := run(r)
		if err != nil {
			status := http.StatusInternalServerError
			var httpErr *httpError
			if errors.As(err, &httpErr) {
				status = httpErr.status
			}

			logger.WithError(err).Warn("Request failed.")
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}

		logger.Debug("Request served.")
		writeJSON(w, http.StatusOK, response)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to write response.")
	}
}

func (server *Server) health(r *http.Request) (interface{}, error) {
	return &storage.HealthResponse{Status: "ok"}, nil
}

func (server *Server) authorize(r *http.Request) (interface{}, error) {
	var input storage.AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return nil, fail(http.StatusBadRequest, "malformed request: %s", err)
	}

	if _, err := did.Mailto(input.Email); err != nil {
		return nil, &httpError{status: http.StatusBadRequest, err: err}
	}

	id := uuid.NewString()
	request := &loginRequest{email: input.Email, expires: server.now().Add(server.options.RequestTTL)}

	server.mutex.Lock()
	server.requests[id] = request
	server.mutex.Unlock()

	log.Infof("Login requested for %s. Confirm with /access/confirm?request_id=%s", input.Email, id)
	if server.options.AutoConfirm {
		if err := server.Confirm(id); err != nil {
			return nil, err
		}
	}

	return &storage.AuthorizeResponse{RequestID: id, ExpiresAt: request.expires}, nil
}

func (server *Server) claim(r *http.Request) (interface{}, error) {
	id := r.URL.Query().Get("request_id")

	server.mutex.Lock()
	defer server.mutex.Unlock()

	request, ok := server.requests[id]
	if !ok {
		return nil, fail(http.StatusNotFound, "unknown login request \"%s\"", id)
	}

	if request.account != nil {
		delete(server.requests, id)
		return &storage.ClaimResponse{
			Status:  storage.ClaimConfirmed,
			Account: request.account.DID,
			Token:   request.account.Token,
		}, nil
	}

	if server.now().After(request.expires) {
		delete(server.requests, id)
		return &storage.ClaimResponse{Status: storage.ClaimExpired}, nil
	}

	return &storage.ClaimResponse{Status: storage.ClaimPending}, nil
}

// confirm stands in for the link a real service would email.
func (server *Server) confirm(r *http.Request) (interface{}, error) {
	id := r.URL.Query().Get("request_id")
	if err := server.Confirm(id); err != nil {
		if errors.Is(err, storage.ErrLoginExpired) {
			return nil, &httpError{status: http.StatusGone, err: err}
		}
		return nil, &httpError{status: http.StatusNotFound, err: err}
	}

	return &storage.ClaimResponse{Status: storage.ClaimConfirmed}, nil
}

func (server *Server) authenticate(r *http.Request) (*storage.Account, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	server.mutex.Lock()
	defer server.mutex.Unlock()

	account, ok := server.sessions[token]
	if !ok || token == "" {
		return nil, fail(http.StatusUnauthorized, "not logged in")
	}

	return account, nil
}

func (server *Server) createSpace(r *http.Request) (interface{}, error) {
	account, err := server.authenticate(r)
	if err != nil {
		return nil, err
	}

	var input storage.CreateSpaceRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return nil, fail(http.StatusBadRequest, "malformed request: %s", err)
	}

	if input.Account != account.DID {
		return nil, fail(http.StatusForbidden, "%s may not create spaces for %s", account.DID, input.Account)
	}

	space, err := server.backend.CreateSpace(r.Context(), input.Name, account)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidName) {
			return nil, &httpError{status: http.StatusBadRequest, err: err}
		}
		return nil, err
	}

	server.mutex.Lock()
	server.spaces[space.ID] = space
	server.mutex.Unlock()

	log.Infof("Created space %q (%s) for %s.", space.Name, space.ID, account.DID)
	return &storage.CreateSpaceResponse{DID: space.ID}, nil
}

func (server *Server) upload(r *http.Request) (interface{}, error) {
	account, err := server.authenticate(r)
	if err != nil {
		return nil, err
	}

	id := r.URL.Query().Get("space")

	server.mutex.Lock()
	space, ok := server.spaces[id]
	server.mutex.Unlock()

	if !ok {
		return nil, fail(http.StatusNotFound, "unknown space \"%s\"", id)
	}

	if space.Account != account.DID {
		return nil, fail(http.StatusForbidden, "%s has no access to space %s", account.DID, id)
	}

	name := r.Header.Get(storage.HeaderFileName)
	if name == "" {
		return nil, fail(http.StatusBadRequest, "missing %s header", storage.HeaderFileName)
	}

	var cid storage.CID
	if streamer, ok := server.backend.(storage.StreamUploader); ok {
		cid, err = streamer.UploadStream(r.Context(), space, name, r.Body, r.ContentLength)
	} else {
		var data []byte
		if data, err = io.ReadAll(r.Body); err != nil {
			return nil, errors.Wrap(err, "read upload")
		}
		cid, err = server.backend.UploadFile(r.Context(), space, storage.File{Name: name, Data: data})
	}

	if err != nil {
		return nil, err
	}

	log.Infof("Stored %s in %s as %s.", name, id, cid)
	return &storage.UploadResponse{CID: cid.String()}, nil
}
