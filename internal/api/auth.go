package api

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Wire endpoints for the auth plane.
const (
	endpointRandomCode = "/official/user/query/random/code"
	endpointLogin      = "/official/user/account/login/new"
	endpointPreAuth    = "/user/validcode/pre-auth"
	endpointSendCode   = "/user/mail/validcode/send"
	endpointCodeLogin  = "/official/user/sms/login"
)

// Fixed login payload fields. The browser value must match the User-Agent
// the session presents; equipment differs between password and code login.
const (
	loginBrowser     = "Chrome107"
	loginEquipment   = "1"
	codeEquipment    = "4"
	loginMethod      = "1"
	loginLanguage    = "en"
	loginCountryCode = 1
)

// Verification carries the state a caller must round-trip between
// requesting an emailed verification code and completing the code login.
type Verification struct {
	Email        string
	Timestamp    string
	ValidCodeKey string
}

type randomCodeRequest struct {
	CountryCode int    `json:"countryCode"`
	Account     string `json:"account"`
}

type randomCodeResponse struct {
	apiResponse
	RandomCode string `json:"randomCode"`
	Timestamp  int64  `json:"timestamp"`
}

type loginRequest struct {
	CountryCode int    `json:"countryCode"`
	Account     string `json:"account"`
	Password    string `json:"password"`
	Browser     string `json:"browser"`
	Equipment   string `json:"equipment"`
	LoginMethod string `json:"loginMethod"`
	Timestamp   int64  `json:"timestamp"`
	Language    string `json:"language"`
}

type tokenResponse struct {
	apiResponse
	Token string `json:"token"`
}

type preAuthRequest struct {
	Account string `json:"account"`
}

type sendCodeRequest struct {
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
	Token     string `json:"token"`
	Sign      string `json:"sign"`
}

type sendCodeResponse struct {
	apiResponse
	ValidCodeKey string `json:"validCodeKey"`
}

type codeLoginRequest struct {
	Email        string `json:"email"`
	ValidCode    string `json:"validCode"`
	ValidCodeKey string `json:"validCodeKey"`
	Timestamp    string `json:"timestamp"`
	Browser      string `json:"browser"`
	Equipment    string `json:"equipment"`
}

// Login authenticates with email and password. The password never crosses
// the wire: a per-attempt nonce is requested first and the service receives
// only the nonce-bound digest, so captured payloads cannot be replayed
// against a different nonce.
//
// Rejections surface as *AuthError carrying the service's error code and
// the attempt's timestamp.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	nonce, timestamp, err := c.randomCode(ctx, email)
	if err != nil {
		return "", err
	}

	payload := loginRequest{
		CountryCode: loginCountryCode,
		Account:     email,
		Password:    passwordDigest(password, nonce),
		Browser:     loginBrowser,
		Equipment:   loginEquipment,
		LoginMethod: loginMethod,
		Timestamp:   timestamp,
		Language:    loginLanguage,
	}

	var resp tokenResponse
	if err := c.apiCall(ctx, endpointLogin, payload, &resp); err != nil {
		return "", err
	}

	if !resp.Success {
		return "", &AuthError{
			Code:      resp.ErrorCode,
			Message:   nonEmpty(resp.ErrorMsg, "login failed"),
			Timestamp: strconv.FormatInt(timestamp, 10),
		}
	}

	if resp.Token == "" {
		return "", &APIError{Message: "login response missing token", Err: ErrRejected}
	}

	c.accessToken = resp.Token
	c.logger.Info("logged in", slog.String("account", email))

	return resp.Token, nil
}

// randomCode performs the pre-login call, returning the server-issued nonce
// and timestamp for this account.
func (c *Client) randomCode(ctx context.Context, email string) (string, int64, error) {
	var resp randomCodeResponse
	if err := c.apiCall(ctx, endpointRandomCode, randomCodeRequest{CountryCode: loginCountryCode, Account: email}, &resp); err != nil {
		return "", 0, err
	}

	if !resp.Success {
		return "", 0, resp.rejection("pre-login failed")
	}

	if resp.RandomCode == "" {
		return "", 0, &APIError{Message: "pre-login response missing random code", Err: ErrRejected}
	}

	return resp.RandomCode, resp.Timestamp, nil
}

// RequestVerificationCode starts the email one-time-code handshake: it
// performs the pre-auth call, extracts the real key from the indexable
// pre-auth token, signs the request, and asks the service to email a code.
// timestamp should be the failed login attempt's timestamp; when empty, the
// current time is used.
func (c *Client) RequestVerificationCode(ctx context.Context, email, timestamp string) (*Verification, error) {
	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	var preAuth tokenResponse
	if err := c.apiCall(ctx, endpointPreAuth, preAuthRequest{Account: email}, &preAuth); err != nil {
		return nil, err
	}

	if !preAuth.Success {
		return nil, preAuth.rejection("verification pre-auth failed")
	}

	if preAuth.Token == "" {
		return nil, &APIError{Message: "pre-auth response missing token", Err: ErrRejected}
	}

	realKey, err := extractRealKey(preAuth.Token)
	if err != nil {
		return nil, err
	}

	send := sendCodeRequest{
		Email:     email,
		Timestamp: timestamp,
		Token:     preAuth.Token,
		Sign:      sha256Hex(email + realKey),
	}

	var resp sendCodeResponse
	if err := c.apiCall(ctx, endpointSendCode, send, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, resp.rejection("sending verification code failed")
	}

	if resp.ValidCodeKey == "" {
		return nil, &APIError{Message: "send-code response missing validCodeKey", Err: ErrRejected}
	}

	c.logger.Info("verification code requested", slog.String("account", email))

	return &Verification{Email: email, Timestamp: timestamp, ValidCodeKey: resp.ValidCodeKey}, nil
}

// LoginWithVerificationCode completes a login that the service flagged for
// email verification. code is the one-time code the account holder received;
// validCodeKey and timestamp come from RequestVerificationCode.
func (c *Client) LoginWithVerificationCode(ctx context.Context, email, code, validCodeKey, timestamp string) (string, error) {
	payload := codeLoginRequest{
		Email:        email,
		ValidCode:    code,
		ValidCodeKey: validCodeKey,
		Timestamp:    timestamp,
		Browser:      loginBrowser,
		Equipment:    codeEquipment,
	}

	var resp tokenResponse
	if err := c.apiCall(ctx, endpointCodeLogin, payload, &resp); err != nil {
		return "", err
	}

	if !resp.Success {
		return "", &AuthError{
			Code:      resp.ErrorCode,
			Message:   nonEmpty(resp.ErrorMsg, "verification login failed"),
			Timestamp: timestamp,
		}
	}

	if resp.Token == "" {
		return "", &APIError{Message: "code login response missing token", Err: ErrRejected}
	}

	c.accessToken = resp.Token
	c.logger.Info("logged in via verification code", slog.String("account", email))

	return resp.Token, nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}

	return fallback
}
