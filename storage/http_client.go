package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/ddliu/go-httpclient"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schmich/upspace/cidutil"
	"github.com/schmich/upspace/did"
	log "github.com/sirupsen/logrus"
)

const defaultPollInterval = 2 * time.Second

// HTTPClient talks to a storage bridge over JSON/HTTP.
type HTTPClient struct {
	endpoint     string
	http         *httpclient.HttpClient
	loginTimeout time.Duration
	pollInterval time.Duration
	token        string
}

// NewHTTPClient checks that the bridge at opts.Endpoint answers before
// returning a client for it.
func NewHTTPClient(ctx context.Context, opts Options) (*HTTPClient, error) {
	endpoint, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "parse endpoint")
	}

	if endpoint.Scheme != "http" && endpoint.Scheme != "https" || endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint must be an http(s) URL: \"%s\"", opts.Endpoint)
	}

	client := &HTTPClient{
		endpoint:     strings.TrimRight(endpoint.String(), "/"),
		http:         httpclient.NewHttpClient().Defaults(httpclient.Map{httpclient.OPT_USERAGENT: "upspace"}),
		loginTimeout: opts.LoginTimeout,
		pollInterval: opts.PollInterval,
	}

	if client.pollInterval <= 0 {
		client.pollInterval = defaultPollInterval
	}

	var health HealthResponse
	if err := client.call("GET", "/health", nil, nil, &health); err != nil {
		return nil, errors.Wrapf(err, "reach %s", client.endpoint)
	}

	log.Debugf("Connected to %s.", client.endpoint)
	return client, nil
}

func (client *HTTPClient) Login(ctx context.Context, email string) (*Account, error) {
	var authorize AuthorizeResponse
	if err := client.postJSON("/access/authorize", &AuthorizeRequest{Email: email}, &authorize); err != nil {
		return nil, errors.Wrap(err, "authorize")
	}

	log.Infof("Confirm the login link sent to %s.", email)

	var deadline time.Time
	if client.loginTimeout > 0 {
		deadline = time.Now().Add(client.loginTimeout)
	}

	claimPath := "/access/claim?request_id=" + url.QueryEscape(authorize.RequestID)
	for {
		var claim ClaimResponse
		if err := client.call("GET", claimPath, nil, nil, &claim); err != nil {
			return nil, errors.Wrap(err, "claim")
		}

		switch claim.Status {
		case ClaimConfirmed:
			client.token = claim.Token
			return &Account{DID: claim.Account, Email: email, Token: claim.Token}, nil
		case ClaimExpired:
			return nil, ErrLoginExpired
		case ClaimPending:
		default:
			return nil, fmt.Errorf("unexpected claim status \"%s\"", claim.Status)
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrLoginTimeout
		}

		log.Debugf("Login for %s still pending.", email)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(client.pollInterval):
		}
	}
}

func (client *HTTPClient) CreateSpace(ctx context.Context, name string, account *Account) (*Space, error) {
	if err := checkSpaceRequest(name, account); err != nil {
		return nil, err
	}

	var response CreateSpaceResponse
	request := &CreateSpaceRequest{Name: name, Account: account.DID}
	if err := client.postJSON("/space/create", request, &response, account.Token); err != nil {
		return nil, err
	}

	if _, err := did.Parse(response.DID); err != nil {
		return nil, err
	}

	return &Space{ID: response.DID, Name: name, Account: account.DID}, nil
}

func (client *HTTPClient) UploadFile(ctx context.Context, space *Space, file File) (CID, error) {
	return client.UploadStream(ctx, space, file.Name, bytes.NewReader(file.Data), int64(len(file.Data)))
}

func (client *HTTPClient) UploadStream(ctx context.Context, space *Space, name string, reader io.Reader, size int64) (CID, error) {
	if space == nil {
		return "", ErrNoSpace
	}

	if client.token == "" {
		return "", ErrNotLoggedIn
	}

	headers := map[string]string{
		"Content-Type":  "application/octet-stream",
		"Authorization": "Bearer " + client.token,
		HeaderFileName:  name,
	}

	var response UploadResponse
	path := "/upload?space=" + url.QueryEscape(space.ID)
	if err := client.call("POST", path, headers, reader, &response); err != nil {
		return "", err
	}

	if !cidutil.Valid(response.CID) {
		return "", fmt.Errorf("%w: \"%s\"", ErrInvalidCID, response.CID)
	}

	return CID(response.CID), nil
}

func (client *HTTPClient) postJSON(path string, request interface{}, response interface{}, token ...string) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for _, t := range token {
		headers["Authorization"] = "Bearer " + t
	}

	return client.call("POST", path, headers, bytes.NewReader(body), response)
}

func (client *HTTPClient) call(method string, path string, headers map[string]string, body io.Reader, response interface{}) error {
	if headers == nil {
		headers = map[string]string{}
	}

	requestID := uuid.NewString()
	headers[HeaderRequestID] = requestID

	log.Debugf("%s %s (%s).", method, path, requestID)
	res, err := client.http.Do(method, client.endpoint+path, headers, body)
	if err != nil {
		return err
	}

	content, err := res.ReadAll()
	if err != nil {
		return err
	}

	var envelope struct {
		Error string `json:"error"`
	}

	if jsonErr := json.Unmarshal(content, &envelope); jsonErr == nil && envelope.Error != "" {
		return errors.New(envelope.Error)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%s %s: %s %s", method, path, res.Status, strings.TrimSpace(string(content)))
	}

	if err := json.Unmarshal(content, response); err != nil {
		return errors.Wrapf(err, "%s %s: decode response", method, path)
	}

	return nil
}
