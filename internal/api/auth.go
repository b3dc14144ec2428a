// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"net/http"
	"strings"
)

const authPath = "/api/auth"

// Credentials log a user in. Captcha fields are required when the backend
// has captcha enabled.
type Credentials struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	CaptchaID string `json:"captcha_id,omitempty"`
	Captcha   string `json:"captcha,omitempty"`
}

// Token is an issued bearer token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Captcha is a challenge image, base64 encoded.
type Captcha struct {
	ID    string `json:"captcha_id"`
	Image string `json:"image"`
}

// Profile is the signed-in user.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Login exchanges credentials for a token and installs it on the client.
func (c *Client) Login(ctx context.Context, cred Credentials) (*Token, error) {
	var tok Token
	if err := c.do(ctx, http.MethodPost, authPath+"/login", nil, cred, &tok); err != nil {
		return nil, err
	}
	c.SetToken(tok.AccessToken)
	return &tok, nil
}

// Logout invalidates the token server side and clears it locally, even if
// the request fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, authPath+"/logout", nil, nil, nil)
	c.SetToken("")
	return err
}

// Captcha fetches a new login challenge.
func (c *Client) Captcha(ctx context.Context) (*Captcha, error) {
	var cp Captcha
	if err := c.do(ctx, http.MethodGet, authPath+"/captcha", nil, nil, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Refresh renews the current token and installs the new one.
func (c *Client) Refresh(ctx context.Context) (*Token, error) {
	var tok Token
	if err := c.do(ctx, http.MethodPost, authPath+"/refresh", nil, nil, &tok); err != nil {
		return nil, err
	}
	c.SetToken(tok.AccessToken)
	return &tok, nil
}

// Profile returns the signed-in user.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, authPath+"/profile", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UploadAvatar replaces the user's avatar and returns its URL.
func (c *Client) UploadAvatar(ctx context.Context, filename string, image []byte) (string, error) {
	body, contentType, err := multipartBody("avatar", filename, bytes.NewReader(image), nil)
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, authPath+"/avatar", nil, body, contentType)
	if err != nil {
		return "", err
	}
	var out struct {
		URL string `json:"avatar_url"`
	}
	if err := c.roundTrip(req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.URL), nil
}
