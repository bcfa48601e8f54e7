// Package response writes the {success, data, error} envelope every REST
// endpoint returns.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Fail sends status with an error message.
func Fail(c *gin.Context, status int, err string) {
	c.JSON(status, Body{Success: false, Error: err})
}

func BadRequest(c *gin.Context, err string)         { Fail(c, http.StatusBadRequest, err) }
func Unauthorized(c *gin.Context, err string)       { Fail(c, http.StatusUnauthorized, err) }
func Forbidden(c *gin.Context, err string)          { Fail(c, http.StatusForbidden, err) }
func NotFound(c *gin.Context, err string)           { Fail(c, http.StatusNotFound, err) }
func Conflict(c *gin.Context, err string)           { Fail(c, http.StatusConflict, err) }
func ServiceUnavailable(c *gin.Context, err string) { Fail(c, http.StatusServiceUnavailable, err) }
func Internal(c *gin.Context, err string)           { Fail(c, http.StatusInternalServerError, err) }
