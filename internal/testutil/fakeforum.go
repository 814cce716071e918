// Package testutil provides shared test doubles and fixtures for the service tests.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"schoolforum/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Operation names accepted by FakeForum.Fail and FakeForum.Calls.
const (
	OpGetPost       = "GetPostByID"
	OpGetComment    = "GetCommentByID"
	OpUpsertComment = "UpsertComment"
	OpDeleteComment = "DeleteComment"
)

var (
	// ErrInjected is returned by an operation armed with Fail(op, nil).
	ErrInjected = errors.New("injected forum failure")
	// ErrDeleteRejected is returned by DeleteComment while deletes are rejected.
	ErrDeleteRejected = errors.New("forum rejected the delete")
)

// FakeForum is an in-memory forum server. It renders comment subtrees to the
// requested depth with accurate descendant counts at every node, counts calls
// per operation, and can fail chosen operations once.
type FakeForum struct {
	mu       sync.Mutex
	posts    map[string]*models.Post
	comments map[string]*models.Comment
	order    []string
	calls    map[string]int
	fetches  map[string]int
	failures map[string]error
	uploads  map[string][]models.MediaItem

	rejectDeletes bool
	lastUserID    string
}

func NewFakeForum() *FakeForum {
	return &FakeForum{
		posts:    make(map[string]*models.Post),
		comments: make(map[string]*models.Comment),
		calls:    make(map[string]int),
		fetches:  make(map[string]int),
		failures: make(map[string]error),
		uploads:  make(map[string][]models.MediaItem),
	}
}

// AddPost stores a post with generated content and returns its id.
func (f *FakeForum) AddPost() string {
	return f.AddPostWithID(uuid.NewString())
}

func (f *FakeForum) AddPostWithID(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[id] = &models.Post{
		ID:          id,
		AuthorID:    uuid.NewString(),
		Title:       gofakeit.Question(),
		SubjectID:   uuid.NewString(),
		Body:        gofakeit.Paragraph(1, 3, 12, " "),
		PublishedAt: time.Now().UTC(),
	}
	return id
}

// AddComment stores a comment under parentID (the post id for a top-level
// comment) and returns its id.
func (f *FakeForum) AddComment(postID, parentID string) string {
	return f.AddCommentWithID(uuid.NewString(), postID, parentID)
}

func (f *FakeForum) AddCommentWithID(id, postID, parentID string) string {
	if parentID == "" {
		parentID = postID
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(&models.Comment{
		ID:           id,
		AuthorID:     uuid.NewString(),
		Body:         gofakeit.Sentence(8),
		PublishedAt:  time.Now().UTC(),
		ParentID:     parentID,
		ParentPostID: postID,
	})
	return id
}

// EditBody changes a stored comment as another user would.
func (f *FakeForum) EditBody(id, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.comments[id]; ok {
		c.Body = body
		now := time.Now().UTC()
		c.LastUpdatedAt = &now
	}
}

// Remove deletes a stored comment and its descendants as another user would.
func (f *FakeForum) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove(id)
}

// RejectDeletes makes DeleteComment refuse every delete while set.
func (f *FakeForum) RejectDeletes(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectDeletes = reject
}

// LastUserID returns the requesting user of the most recent call.
func (f *FakeForum) LastUserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUserID
}

// Fail arms op to fail on its next call. A nil err fails with ErrInjected.
func (f *FakeForum) Fail(op string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Calls returns how many times op was invoked.
func (f *FakeForum) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// SubtreeFetches returns how many times the subtree of id was requested.
func (f *FakeForum) SubtreeFetches(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

// Uploads returns the media received with the most recent upsert of the
// comment with the given id.
func (f *FakeForum) Uploads(commentID string) []models.MediaItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[commentID]
}

// CommentIDs returns the ids of the stored comments in creation order.
func (f *FakeForum) CommentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *FakeForum) GetPostByID(_ context.Context, userID, postID string) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpGetPost, userID); err != nil {
		return nil, err
	}
	post, ok := f.posts[postID]
	if !ok {
		return nil, models.NewNotFoundError("Post", postID)
	}
	out := *post
	out.TotalChildrenCount = f.descendants(postID)
	out.Children = f.render(postID, 0)
	return &out, nil
}

func (f *FakeForum) GetCommentByID(_ context.Context, userID, commentID string, depth int) (*models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpGetComment, userID); err != nil {
		return nil, err
	}
	f.fetches[commentID]++
	c, ok := f.comments[commentID]
	if !ok {
		return nil, models.NewNotFoundError("Comment", commentID)
	}
	return f.renderOne(c, depth), nil
}

// UpsertComment creates the comment when it has no id, otherwise edits it.
// A created comment gets its id assigned on the caller's value.
func (f *FakeForum) UpsertComment(_ context.Context, userID string, comment *models.Comment, media []models.MediaItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpUpsertComment, userID); err != nil {
		return err
	}
	if _, ok := f.posts[comment.ParentPostID]; !ok {
		return models.NewNotFoundError("Post", comment.ParentPostID)
	}

	if comment.ID == "" {
		if _, ok := f.comments[comment.ParentID]; !ok && comment.ParentID != comment.ParentPostID {
			return models.NewNotFoundError("Comment", comment.ParentID)
		}
		stored := *comment
		stored.ID = uuid.NewString()
		stored.Children = nil
		stored.TotalChildrenCount = 0
		f.store(&stored)
		comment.ID = stored.ID
		f.uploads[stored.ID] = media
		return nil
	}

	existing, ok := f.comments[comment.ID]
	if !ok {
		return models.NewNotFoundError("Comment", comment.ID)
	}
	existing.Body = comment.Body
	existing.LastUpdatedAt = comment.LastUpdatedAt
	f.uploads[comment.ID] = media
	return nil
}

func (f *FakeForum) DeleteComment(_ context.Context, userID, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDeleteComment, userID); err != nil {
		return err
	}
	if f.rejectDeletes {
		return ErrDeleteRejected
	}
	if _, ok := f.comments[commentID]; !ok {
		return models.NewNotFoundError("Comment", commentID)
	}
	f.remove(commentID)
	return nil
}

func (f *FakeForum) begin(op, userID string) error {
	f.calls[op]++
	f.lastUserID = userID
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		return err
	}
	return nil
}

func (f *FakeForum) store(c *models.Comment) {
	f.comments[c.ID] = c
	f.order = append(f.order, c.ID)
}

func (f *FakeForum) remove(id string) {
	for _, childID := range f.childIDs(id) {
		f.remove(childID)
	}
	delete(f.comments, id)
	for i, existing := range f.order {
		if existing == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *FakeForum) childIDs(parentID string) []string {
	var ids []string
	for _, id := range f.order {
		if f.comments[id].ParentID == parentID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *FakeForum) descendants(parentID string) int {
	total := 0
	for _, id := range f.childIDs(parentID) {
		total += 1 + f.descendants(id)
	}
	return total
}

// render returns the children of parentID, each loaded depth more levels.
func (f *FakeForum) render(parentID string, depth int) []*models.Comment {
	out := []*models.Comment{}
	for _, id := range f.childIDs(parentID) {
		out = append(out, f.renderOne(f.comments[id], depth))
	}
	return out
}

func (f *FakeForum) renderOne(c *models.Comment, depth int) *models.Comment {
	out := *c
	out.TotalChildrenCount = f.descendants(c.ID)
	out.Children = nil
	if depth > 0 {
		out.Children = f.render(c.ID, depth-1)
	}
	return &out
}

// App serves the fake over the forum's REST routes. Failures armed with Fail
// answer 500; unknown ids answer 404.
func (f *FakeForum) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use(func(c *fiber.Ctx) error {
		if c.Get("userId") == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return c.Next()
	})

	app.Get("/posts/:id", func(c *fiber.Ctx) error {
		post, err := f.GetPostByID(c.UserContext(), c.Get("userId"), c.Params("id"))
		if err != nil {
			return fakeError(c, err)
		}
		return c.JSON(post)
	})

	app.Get("/comments/:id", func(c *fiber.Ctx) error {
		depth, err := strconv.Atoi(c.Query("depth", "1"))
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		comment, err := f.GetCommentByID(c.UserContext(), c.Get("userId"), c.Params("id"), depth)
		if err != nil {
			return fakeError(c, err)
		}
		return c.JSON(comment)
	})

	app.Post("/comments", func(c *fiber.Ctx) error {
		form, err := c.MultipartForm()
		if err != nil || len(form.Value["commentJson"]) != 1 {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		var comment models.Comment
		if err := json.Unmarshal([]byte(form.Value["commentJson"][0]), &comment); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		var media []models.MediaItem
		for _, fh := range form.File["mediaFiles"] {
			file, err := fh.Open()
			if err != nil {
				return c.SendStatus(fiber.StatusBadRequest)
			}
			data, err := io.ReadAll(file)
			_ = file.Close()
			if err != nil {
				return c.SendStatus(fiber.StatusBadRequest)
			}
			media = append(media, models.MediaItem{
				Data: data,
				Type: models.MediaType(fh.Header.Get("Content-Type")),
			})
		}
		if err := f.UpsertComment(c.UserContext(), c.Get("userId"), &comment, media); err != nil {
			return fakeError(c, err)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	app.Delete("/comments/:id", func(c *fiber.Ctx) error {
		err := f.DeleteComment(c.UserContext(), c.Get("userId"), c.Params("id"))
		switch {
		case errors.Is(err, ErrDeleteRejected):
			return c.JSON(false)
		case err != nil:
			return fakeError(c, err)
		}
		return c.JSON(true)
	})

	return app
}

func fakeError(c *fiber.Ctx, err error) error {
	if models.HasCode(err, models.CodeNotFound) {
		return c.Status(fiber.StatusNotFound).SendString(err.Error())
	}
	return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
}
