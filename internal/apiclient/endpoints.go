package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/burmeserecap/recap/internal/models"
)

// Login handles POST /auth/login.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/login", Body: req, NoAuth: true, NoRefresh: true}, &resp)
	return resp, err
}

// Signup handles POST /auth/signup.
func (c *Client) Signup(ctx context.Context, req models.SignupRequest) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/signup", Body: req, NoAuth: true, NoRefresh: true}, &resp)
	return resp, err
}

// GoogleExchange trades an OAuth authorization code for a session.
func (c *Client) GoogleExchange(ctx context.Context, req models.GoogleExchangeRequest) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/google", Body: req, NoAuth: true, NoRefresh: true}, &resp)
	return resp, err
}

// Refresh exchanges a refresh token for a new access token. It never
// recurses into the refresh cycle.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (models.RefreshResponse, error) {
	var resp models.RefreshResponse
	err := c.send(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/refresh",
		Body:      models.RefreshRequest{RefreshToken: refreshToken},
		NoAuth:    true,
		NoRefresh: true,
	}, "", &resp)
	return resp, err
}

// Me handles GET /users/me.
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var user models.User
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/users/me"}, &user)
	return user, err
}

// Logout handles POST /auth/logout. The refresh cycle is skipped: a session
// that is already dead has nothing left to invalidate.
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/logout", NoRefresh: true}, nil)
}

// CreateVideo handles POST /videos.
func (c *Client) CreateVideo(ctx context.Context, req models.CreateVideoRequest) (models.Video, error) {
	var video models.Video
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/videos", Body: req}, &video)
	return video, err
}

// ListVideos handles GET /videos.
func (c *Client) ListVideos(ctx context.Context, page, pageSize int) (models.VideoPage, error) {
	var resp models.VideoPage
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/videos", Query: pageQuery(page, pageSize)}, &resp)
	return resp, err
}

// GetVideo handles GET /videos/{id}.
func (c *Client) GetVideo(ctx context.Context, id string) (models.Video, error) {
	var video models.Video
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/videos/" + url.PathEscape(id)}, &video)
	return video, err
}

// DeleteVideo handles DELETE /videos/{id}.
func (c *Client) DeleteVideo(ctx context.Context, id string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: "/videos/" + url.PathEscape(id)}, nil)
}

// ListTransactions handles GET /credits/transactions.
func (c *Client) ListTransactions(ctx context.Context, page, pageSize int) (models.TransactionPage, error) {
	var resp models.TransactionPage
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/credits/transactions", Query: pageQuery(page, pageSize)}, &resp)
	return resp, err
}

// AdminListUsers handles GET /admin/users.
func (c *Client) AdminListUsers(ctx context.Context, page, pageSize int) (models.UserPage, error) {
	var resp models.UserPage
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/admin/users", Query: pageQuery(page, pageSize)}, &resp)
	return resp, err
}

func pageQuery(page, pageSize int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	return q
}
