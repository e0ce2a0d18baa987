// Package sncloud is a client library for a Supernote-style device-sync
// cloud service. It authenticates with hashed credentials (completing an
// emailed one-time-code round-trip when the service demands one), caches
// access tokens on disk keyed by account email, and exposes folder and
// upload operations over the authenticated session.
//
// A Client is either unauthenticated or authenticated; no partial state is
// observable. One Client serves one logical account and is not safe for
// concurrent use — callers with multiple accounts use one Client each.
package sncloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/notewell/sncloud-go/internal/api"
	"github.com/notewell/sncloud-go/internal/tokencache"
)

// DefaultTargetFolder is where uploads land when the caller passes an empty
// target folder.
const DefaultTargetFolder = "/Inbox"

// verificationRequiredCode is the service error code for logins suspended
// pending email verification.
const verificationRequiredCode = "E1760"

// UploadRecorder receives the outcome of every upload attempt. Implemented
// by journal.Journal; recording is best-effort and failures never affect
// the upload itself.
type UploadRecorder interface {
	RecordUpload(ctx context.Context, res UploadResult) error
}

// Options configures a Client. The zero value talks to the production
// service with no token cache and no upload recording.
type Options struct {
	// BaseURL overrides the production API endpoint (tests, proxies).
	BaseURL string

	// HTTPClient overrides the default transport. The client it replaces
	// carries a cookie jar, which the CSRF scheme needs; custom clients
	// should bring their own jar.
	HTTPClient *http.Client

	// TokenCachePath is the token cache file. Empty disables persistence
	// (tokens are still reused within the process).
	TokenCachePath string

	// Recorder, when set, receives every upload outcome.
	Recorder UploadRecorder

	Logger *slog.Logger
}

// Client is the session-level facade over the wire protocol. It adds
// persistent token caching, automatic re-authentication on a stale cached
// token, and path-level folder and upload operations.
type Client struct {
	opts     Options
	logger   *slog.Logger
	cache    *tokencache.Cache
	recorder UploadRecorder

	api   *api.Client // nil until first login attempt
	email string      // account of the authenticated session
}

// NewClient creates an unauthenticated client. Call Login before any
// folder or upload operation.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts:     opts,
		logger:   logger,
		cache:    tokencache.New(opts.TokenCachePath, logger),
		recorder: opts.Recorder,
	}
}

// IsAuthenticated reports whether the client holds an access token.
func (c *Client) IsAuthenticated() bool {
	return c.api != nil && c.api.Token() != ""
}

// Close drops the session, returning the client to the unauthenticated
// state. The access token is not revoked server-side — the service has no
// revocation call.
func (c *Client) Close() {
	c.api = nil
	c.email = ""
}

// Login authenticates the account. A cached token for the email is tried
// first and validated with a cheap probe (root listing); a stale cached
// token is discarded and a full login performed. When the service demands
// email verification, Login returns a *VerificationRequiredError whose
// Context, together with the emailed code, completes the login via Verify.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", &AuthenticationError{Message: "email and password are required"}
	}

	ac := c.apiClient()

	if cached, ok := c.cache.Get(email); ok {
		ac.UseToken(cached)

		if _, err := ac.List(ctx, "/"); err == nil {
			c.logger.Info("using cached access token", slog.String("account", email))
			c.email = email

			return cached, nil
		}

		c.logger.Info("cached token invalid; re-authenticating", slog.String("account", email))
		c.cache.Delete(email)
		ac.ClearToken()
	}

	token, err := ac.Login(ctx, email, password)
	if err != nil {
		return "", c.classifyLoginError(ctx, email, err)
	}

	c.cache.Put(email, token)
	c.email = email

	return token, nil
}

// classifyLoginError maps a protocol-level login failure onto the caller
// taxonomy, upgrading "verification required" rejections into the
// resumable VerificationRequiredError after requesting the emailed code.
func (c *Client) classifyLoginError(ctx context.Context, email string, err error) error {
	var authErr *api.AuthError
	if !errors.As(err, &authErr) {
		return &AuthenticationError{Message: err.Error()}
	}

	if authErr.Code != verificationRequiredCode {
		return &AuthenticationError{Code: authErr.Code, Message: authErr.Message}
	}

	verification, reqErr := c.apiClient().RequestVerificationCode(ctx, email, authErr.Timestamp)
	if reqErr != nil {
		return &AuthenticationError{
			Code:    authErr.Code,
			Message: fmt.Sprintf("verification required but sending code failed: %v", reqErr),
		}
	}

	return &VerificationRequiredError{
		Message: "email verification required; a code was sent to " + email,
		Context: VerificationContext{
			Email:        verification.Email,
			Timestamp:    verification.Timestamp,
			ValidCodeKey: verification.ValidCodeKey,
		},
	}
}

// Verify completes a login that returned VerificationRequiredError. code is
// the one-time code from the account holder's email; vctx is the error's
// Context, round-tripped unchanged.
func (c *Client) Verify(ctx context.Context, code string, vctx VerificationContext) (string, error) {
	if !vctx.complete() {
		return "", &AuthenticationError{Message: "invalid verification context"}
	}

	token, err := c.apiClient().LoginWithVerificationCode(ctx, vctx.Email, code, vctx.ValidCodeKey, vctx.Timestamp)
	if err != nil {
		return "", &AuthenticationError{Message: fmt.Sprintf("verification failed: %v", err)}
	}

	c.cache.Put(vctx.Email, token)
	c.email = vctx.Email

	return token, nil
}

// Upload transfers one local file into targetFolder ("" for the default
// inbox), creating the folder first when createFolder is set. Per-file
// failures — missing local file, folder creation, transfer errors — are
// reported in the UploadResult, never as an error, so batch callers can
// continue past them. The returned error is non-nil only when the client
// is not authenticated.
func (c *Client) Upload(ctx context.Context, filePath, targetFolder string, createFolder bool) (UploadResult, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return UploadResult{}, err
	}

	if targetFolder == "" {
		targetFolder = DefaultTargetFolder
	}

	targetFolder = ensureLeadingSlash(targetFolder)

	res := c.doUpload(ctx, filePath, targetFolder, createFolder)
	c.record(ctx, res)

	return res, nil
}

func (c *Client) doUpload(ctx context.Context, filePath, targetFolder string, createFolder bool) UploadResult {
	res := UploadResult{
		FilePath:  filePath,
		CloudPath: targetFolder,
		FileName:  filepath.Base(filePath),
	}

	if _, err := os.Stat(filePath); err != nil {
		res.Error = "file not found: " + filePath
		return res
	}

	if createFolder {
		exists, err := c.FolderExists(ctx, targetFolder)
		if err == nil && !exists {
			if _, mkErr := c.Mkdir(ctx, targetFolder, true); mkErr != nil {
				res.Error = fmt.Sprintf("failed to create folder: %v", mkErr)
				return res
			}
		}
	}

	if err := c.api.Upload(ctx, filePath, targetFolder); err != nil {
		res.Error = fmt.Sprintf("upload failed: %v", err)
		c.logger.Error("upload failed",
			slog.String("file", res.FileName),
			slog.String("folder", targetFolder),
			slog.String("error", err.Error()),
		)

		return res
	}

	res.Success = true
	c.logger.Info("uploaded", slog.String("file", res.FileName), slog.String("folder", targetFolder))

	return res
}

// UploadMany uploads files sequentially, producing one UploadResult per
// input path in input order. With stopOnError, the batch stops after the
// first failure and the result list is shorter than the input list.
func (c *Client) UploadMany(ctx context.Context, filePaths []string, targetFolder string, createFolder, stopOnError bool) ([]UploadResult, error) {
	results := make([]UploadResult, 0, len(filePaths))

	for _, filePath := range filePaths {
		res, err := c.Upload(ctx, filePath, targetFolder, createFolder)
		if err != nil {
			return results, err
		}

		results = append(results, res)

		if stopOnError && !res.Success {
			break
		}
	}

	return results, nil
}

// ListFolder lists the contents of a cloud folder, projecting each remote
// entry to FileInfo or FolderInfo.
func (c *Client) ListFolder(ctx context.Context, folderPath string) ([]Entry, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return nil, err
	}

	folderPath = ensureLeadingSlash(folderPath)

	raw, err := c.api.List(ctx, folderPath)
	if err != nil {
		return nil, &FolderError{Op: "list", Path: folderPath, Err: err}
	}

	base := strings.TrimRight(folderPath, "/")
	entries := make([]Entry, 0, len(raw))

	for _, item := range raw {
		itemPath := base + "/" + item.Name
		if item.IsFolder {
			entries = append(entries, FolderInfo{ID: item.ID, Name: item.Name, Path: itemPath})
		} else {
			entries = append(entries, FileInfo{ID: item.ID, Name: item.Name, Path: itemPath, Size: item.Size})
		}
	}

	return entries, nil
}

// Mkdir creates a cloud folder. With parents, missing ancestors are created
// first (recursion bounded by the path's segment count). Creating the root
// is always an error.
func (c *Client) Mkdir(ctx context.Context, folderPath string, parents bool) (FolderInfo, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return FolderInfo{}, err
	}

	folderPath = strings.TrimRight(ensureLeadingSlash(folderPath), "/")
	if folderPath == "" {
		return FolderInfo{}, &FolderError{Op: "mkdir", Path: "/", Err: errors.New("cannot create the root folder")}
	}

	parentPath := path.Dir(folderPath)
	name := path.Base(folderPath)

	if parents && parentPath != "/" {
		exists, err := c.FolderExists(ctx, parentPath)
		if err != nil {
			return FolderInfo{}, err
		}

		if !exists {
			if _, err := c.Mkdir(ctx, parentPath, true); err != nil {
				return FolderInfo{}, err
			}
		}
	}

	if err := c.api.CreateDirectory(ctx, name, parentPath); err != nil {
		return FolderInfo{}, &FolderError{Op: "mkdir", Path: folderPath, Err: err}
	}

	return FolderInfo{ID: 0, Name: name, Path: folderPath}, nil
}

// FolderExists reports whether a cloud folder exists. The root always
// exists; for anything else the parent is listed and searched for a
// same-named folder. A failed listing reports false rather than an error —
// the conservative default lets callers attempt creation instead of
// failing silently.
func (c *Client) FolderExists(ctx context.Context, folderPath string) (bool, error) {
	if err := c.ensureAuthenticated(); err != nil {
		return false, err
	}

	folderPath = strings.TrimRight(ensureLeadingSlash(folderPath), "/")
	if folderPath == "" {
		return true, nil
	}

	name := path.Base(folderPath)

	entries, err := c.ListFolder(ctx, path.Dir(folderPath))
	if err != nil {
		return false, nil //nolint:nilerr // listing failure means "treat as absent"
	}

	for _, entry := range entries {
		if entry.IsDir() && entry.EntryName() == name {
			return true, nil
		}
	}

	return false, nil
}

// apiClient returns the protocol client, creating it on first use.
func (c *Client) apiClient() *api.Client {
	if c.api == nil {
		c.api = api.NewClient(api.Options{
			BaseURL:    c.opts.BaseURL,
			HTTPClient: c.opts.HTTPClient,
			Logger:     c.logger,
		})
	}

	return c.api
}

func (c *Client) ensureAuthenticated() error {
	if !c.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	return nil
}

// record forwards an upload outcome to the configured recorder.
// Best-effort: failures are logged and swallowed.
func (c *Client) record(ctx context.Context, res UploadResult) {
	if c.recorder == nil {
		return
	}

	if err := c.recorder.RecordUpload(ctx, res); err != nil {
		c.logger.Warn("failed to record upload", slog.String("error", err.Error()))
	}
}

func ensureLeadingSlash(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}

	return p
}
