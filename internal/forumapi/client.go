// Package forumapi is the HTTP client for the upstream forum server.
package forumapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"schoolforum/internal/models"
	"schoolforum/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// UserIDHeader carries the requesting user on every forum call.
const UserIDHeader = "userId"

// ErrDeleteRejected is returned when the forum answers a delete with false.
var ErrDeleteRejected = errors.New("forum rejected the delete")

// StatusError is a forum response with a status of 300 or above.
type StatusError struct {
	Operation string
	Status    int
	Body      string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("forum %s returned status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("forum %s returned status %d: %s", e.Operation, e.Status, e.Body)
}

// Client calls the forum's REST routes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the forum at baseURL. A zero timeout means
// requests are bounded only by their context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetPostByID fetches a post with its top-level comments.
func (c *Client) GetPostByID(ctx context.Context, userID, postID string) (*models.Post, error) {
	var post *models.Post
	err := c.do(ctx, "GetPostByID", userID, http.MethodGet, "/posts/"+url.PathEscape(postID), nil, "", &post,
		attribute.String("forum.post_id", postID))
	if err != nil {
		return nil, err
	}
	return post, nil
}

// GetCommentByID fetches a comment with depth levels of children loaded.
func (c *Client) GetCommentByID(ctx context.Context, userID, commentID string, depth int) (*models.Comment, error) {
	path := "/comments/" + url.PathEscape(commentID) + "?depth=" + strconv.Itoa(depth)
	var comment *models.Comment
	err := c.do(ctx, "GetCommentByID", userID, http.MethodGet, path, nil, "", &comment,
		attribute.String("forum.comment_id", commentID),
		attribute.Int("forum.depth", depth))
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// UpsertComment creates the comment when it has no id, otherwise edits it.
// The comment travels as the commentJson form field with media stripped;
// each attachment is its own mediaFiles part.
func (c *Client) UpsertComment(ctx context.Context, userID string, comment *models.Comment, media []models.MediaItem) error {
	body, contentType, err := encodeUpsert(comment, media)
	if err != nil {
		return err
	}
	return c.do(ctx, "UpsertComment", userID, http.MethodPost, "/comments", body, contentType, nil,
		attribute.String("forum.comment_id", comment.ID),
		attribute.Int("forum.media_count", len(media)))
}

// DeleteComment deletes a comment and its descendants.
func (c *Client) DeleteComment(ctx context.Context, userID, commentID string) error {
	var deleted bool
	err := c.do(ctx, "DeleteComment", userID, http.MethodDelete, "/comments/"+url.PathEscape(commentID), nil, "", &deleted,
		attribute.String("forum.comment_id", commentID))
	if err != nil {
		return err
	}
	if !deleted {
		return ErrDeleteRejected
	}
	return nil
}

func encodeUpsert(comment *models.Comment, media []models.MediaItem) (*bytes.Buffer, string, error) {
	payload := *comment
	payload.Media = nil
	payload.Children = nil
	commentJSON, err := json.Marshal(&payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode comment: %w", err)
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if err := w.WriteField("commentJson", string(commentJSON)); err != nil {
		return nil, "", err
	}
	for i, m := range media {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="mediaFiles"; filename="media-%d%s"`, i, m.Extension()))
		h.Set("Content-Type", string(m.Type))
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(m.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func (c *Client) do(ctx context.Context, op, userID, method, path string, body io.Reader, contentType string, out any, attrs ...attribute.KeyValue) (err error) {
	span, ctx := observability.StartUpstreamSpan(ctx, op, append(attrs, attribute.String("http.method", method))...)
	record := observability.TrackUpstream(op)
	status := 0
	defer func() {
		record(status)
		span.AddAttributes(attribute.Int("http.status_code", status))
		span.SetError(err)
		span.End()
		observability.LogUpstreamCall(ctx, op, status, err, map[string]interface{}{"path": path})
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set(UserIDHeader, userID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	observability.InjectHeaders(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forum %s: %w", op, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if status >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{Operation: op, Status: status, Body: strings.TrimSpace(string(snippet))}
		if status == http.StatusNotFound {
			return &models.AppError{Code: models.CodeNotFound, Message: "Not found on the forum", Err: statusErr}
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
