package handler

import (
	"github.com/labstack/echo/v4"
)

const msgInternal = "Internal server error"

// fail writes the error envelope every endpoint shares.
func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"success": false, "message": msg})
}
