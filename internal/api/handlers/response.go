package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/esp-selector-go/internal/middleware"
	"github.com/irfndi/esp-selector-go/internal/utils"
)

// respondError maps the engine error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status, message := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, utils.ErrNotFound), errors.Is(err, utils.ErrTaskNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, utils.ErrInvalidCurve):
		status, message = http.StatusBadRequest, "Invalid performance curve"
	case errors.Is(err, utils.ErrInvalidConfiguration):
		status, message = http.StatusBadRequest, "Invalid configuration"
	case utils.IsValidationError(err):
		status, message = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusGatewayTimeout, "Computation timed out"
	case errors.Is(err, context.Canceled):
		status, message = 499, "Request cancelled"
	}

	if status >= http.StatusInternalServerError {
		middleware.RecordError(c, err, message)
		if logger := middleware.RequestLogger(c, logger); logger != nil {
			logger.Error("Request failed", "path", c.FullPath(), "error", err.Error())
		}
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// optionalInt parses an optional query parameter; absent yields nil.
func optionalInt(c *gin.Context, name string) (*int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, utils.InvalidConfigurationf("%s must be an integer, got %q", name, raw)
	}
	return &v, nil
}

func optionalFloat(c *gin.Context, name string) (*float64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, utils.InvalidConfigurationf("%s must be a number, got %q", name, raw)
	}
	return &v, nil
}
