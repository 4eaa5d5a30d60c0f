// Package rest is the client for the server's HTTP surface: history
// backfill, contact and project listings, block management and attachment
// upload. Everything real-time stays on the websocket channels.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lumachat/lumasync/internal/config"
	"github.com/lumachat/lumasync/internal/domain"
	"github.com/lumachat/lumasync/internal/logging"
	"github.com/lumachat/lumasync/internal/protocol"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rest: server returned %d: %s", e.Code, e.Body)
}

// User is a directory entry.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Project is a group conversation.
type Project struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Members []User `json:"members,omitempty"`
}

// RecentChat is one row of the conversation list.
type RecentChat struct {
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	LastMessage   string `json:"last_message"`
	LastTimestamp string `json:"last_timestamp"`
	UnreadCount   int    `json:"unread_count"`
}

// Client talks to the server's REST API.
type Client struct {
	http *resty.Client
	log  *logging.Logger
}

// NewClient builds a client from server config.
func NewClient(cfg config.ServerConfig, log *logging.Logger) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(15 * time.Second)
	if cfg.APIToken != "" {
		c.SetHeader("Authorization", "Token "+cfg.APIToken)
	}
	return &Client{http: c, log: log.Sub("rest")}
}

// History fetches the stored messages of a conversation, oldest first. The
// records pass through the same normalization as live frames, so legacy
// field names from older server builds are folded the same way.
func (c *Client) History(ctx context.Context, target domain.Target) ([]domain.Message, error) {
	var path string
	switch target.Kind {
	case domain.TargetDirect:
		path = "/api/messages/user/" + strconv.FormatInt(target.ID, 10) + "/"
	case domain.TargetGroup:
		path = "/api/messages/project/" + strconv.FormatInt(target.ID, 10) + "/"
	default:
		return nil, fmt.Errorf("rest: history for unbound target")
	}

	var frames []protocol.Frame
	resp, err := c.http.R().SetContext(ctx).SetResult(&frames).Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &StatusError{Code: resp.StatusCode(), Body: string(resp.Body())}
	}

	msgs := make([]domain.Message, 0, len(frames))
	for _, f := range frames {
		msgs = append(msgs, protocol.ParseMessage(f).Message)
	}
	return msgs, nil
}

// Users lists the directory.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.get(ctx, "/api/users/", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Projects lists the group conversations the user belongs to.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.get(ctx, "/api/projects/", &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// ProjectDetail fetches one project including its member list.
func (c *Client) ProjectDetail(ctx context.Context, projectID int64) (Project, error) {
	var p Project
	err := c.get(ctx, "/api/projects/"+strconv.FormatInt(projectID, 10)+"/", &p)
	return p, err
}

// RecentChats fetches the conversation list with unread counts.
func (c *Client) RecentChats(ctx context.Context) ([]RecentChat, error) {
	var chats []RecentChat
	if err := c.get(ctx, "/api/recent-chats/", &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// Block records a server-side block of userID.
func (c *Client) Block(ctx context.Context, userID int64) error {
	return c.post(ctx, "/api/users/"+strconv.FormatInt(userID, 10)+"/block/")
}

// Unblock lifts a server-side block of userID.
func (c *Client) Unblock(ctx context.Context, userID int64) error {
	return c.post(ctx, "/api/users/"+strconv.FormatInt(userID, 10)+"/unblock/")
}

// Upload pushes an attachment and returns its served location. The caller
// enforces the size cap before getting here.
func (c *Client) Upload(ctx context.Context, name, mimeType string, data []byte) (*domain.Attachment, error) {
	var uploaded struct {
		FileURL  string `json:"file_url"`
		FileName string `json:"file_name"`
		FileType string `json:"file_type"`
		FileSize int64  `json:"file_size"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(data)).
		SetResult(&uploaded).
		Post("/api/uploads/")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &StatusError{Code: resp.StatusCode(), Body: string(resp.Body())}
	}

	att := &domain.Attachment{
		URL:      uploaded.FileURL,
		Name:     uploaded.FileName,
		MimeType: uploaded.FileType,
		Size:     uploaded.FileSize,
	}
	if att.Name == "" {
		att.Name = name
	}
	if att.MimeType == "" {
		att.MimeType = mimeType
	}
	if att.Size == 0 {
		att.Size = int64(len(data))
	}
	return att, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string) error {
	resp, err := c.http.R().SetContext(ctx).Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}
