package api

import (
	"context"
	"fmt"
	"net/http"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type currentUserResponse struct {
	Username string `json:"username"`
}

// Login exchanges a username and password for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, credentials{username, password}, &resp, "login"); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login: server returned no token")
	}
	return resp.Token, nil
}

func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, credentials{username, password}, nil, "register")
}

// CurrentUser returns the username the stored credential belongs to.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	var resp currentUserResponse
	if err := c.do(ctx, http.MethodGet, nil, &resp, "current-user"); err != nil {
		return "", err
	}
	if resp.Username == "" {
		return "", fmt.Errorf("current user: server returned no username")
	}
	return resp.Username, nil
}
