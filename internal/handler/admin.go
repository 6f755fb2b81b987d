package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/custom-gpt-portal/internal/logging"
	"github.com/iliyamo/custom-gpt-portal/internal/model"
	"github.com/iliyamo/custom-gpt-portal/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AdminHandler serves the admin-only user directory.
type AdminHandler struct {
	Users repository.UserStore
}

func NewAdminHandler(users repository.UserStore) *AdminHandler {
	return &AdminHandler{Users: users}
}

type userPage struct {
	Users  []model.PublicUser `json:"users"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ListUsers pages through accounts with ?limit= and ?offset=.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	limit, ok := queryInt(c, "limit", defaultPageSize)
	if !ok || limit < 1 {
		return fail(c, http.StatusBadRequest, "limit must be a positive integer")
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok || offset < 0 {
		return fail(c, http.StatusBadRequest, "offset must be a non-negative integer")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	users, total, err := h.Users.List(ctx, limit, offset)
	if err != nil {
		logging.FromContext(ctx).Error("list users failed", "handler", "list_users", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}

	page := userPage{Users: make([]model.PublicUser, 0, len(users)), Total: total, Limit: limit, Offset: offset}
	for _, u := range users {
		page.Users = append(page.Users, u.Public())
	}
	return c.JSON(http.StatusOK, page)
}

func queryInt(c echo.Context, name string, def int) (int, bool) {
	s := c.QueryParam(name)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}
