package server

import (
	"schoolforum/internal/middleware"
	"schoolforum/internal/models"
	"schoolforum/internal/thread"

	"github.com/gofiber/fiber/v2"
)

// ViewResponse is a post view's id and state.
type ViewResponse struct {
	ViewID string `json:"viewId"`
	*thread.Snapshot
}

// ExpandRequest addresses the comment to toggle by its index chain.
type ExpandRequest struct {
	Chain []int `json:"chain"`
}

// OpenView handles POST /api/posts/:postId/views
func (s *Server) OpenView(c *fiber.Ctx) error {
	postID := c.Params("postId")
	if postID == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("postId is required"))
	}

	viewID, snap, err := s.views.OpenView(c.UserContext(), middleware.UserID(c), postID)
	if err != nil {
		return respondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ViewResponse{ViewID: viewID, Snapshot: snap})
}

// GetView handles GET /api/views/:viewId
func (s *Server) GetView(c *fiber.Ctx) error {
	viewID := c.Params("viewId")
	snap, err := s.views.Snapshot(c.UserContext(), middleware.UserID(c), viewID)
	if err != nil {
		return respondWithAppError(c, err)
	}
	return c.JSON(ViewResponse{ViewID: viewID, Snapshot: snap})
}

// CloseView handles DELETE /api/views/:viewId
func (s *Server) CloseView(c *fiber.Ctx) error {
	if err := s.views.CloseView(c.UserContext(), middleware.UserID(c), c.Params("viewId")); err != nil {
		return respondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleExpand handles POST /api/views/:viewId/expand
func (s *Server) ToggleExpand(c *fiber.Ctx) error {
	var req ExpandRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}

	viewID := c.Params("viewId")
	snap, err := s.views.ToggleExpand(c.UserContext(), middleware.UserID(c), viewID, thread.IndexChain(req.Chain))
	if err != nil {
		return respondWithAppError(c, err)
	}
	return c.JSON(ViewResponse{ViewID: viewID, Snapshot: snap})
}

// SubmitComment handles POST /api/views/:viewId/comments
func (s *Server) SubmitComment(c *fiber.Ctx) error {
	var req thread.Submission
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}

	viewID := c.Params("viewId")
	snap, err := s.views.SubmitComment(c.UserContext(), middleware.UserID(c), viewID, req)
	if err != nil {
		return respondWithAppError(c, err)
	}
	return c.JSON(ViewResponse{ViewID: viewID, Snapshot: snap})
}

// DeleteComment handles DELETE /api/views/:viewId/comments/:commentId
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	viewID := c.Params("viewId")
	snap, err := s.views.DeleteComment(c.UserContext(), middleware.UserID(c), viewID, c.Params("commentId"))
	if err != nil {
		return respondWithAppError(c, err)
	}
	return c.JSON(ViewResponse{ViewID: viewID, Snapshot: snap})
}

func respondWithAppError(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusFor(err), err)
}
