package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func ParseStringIDParam(c *gin.Context, param string) string {
	idStr := c.Param(param)
	idStr = strings.TrimSpace(idStr)
	if idStr == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "ID cannot be empty",
		})
		return ""
	}
	return idStr
}

// studentID resolves the acting student from the X-Student-ID header.
// Identity verification happens upstream; the engine only needs the id
// to enforce attempt ownership.
func studentID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("X-Student-ID"))
}
