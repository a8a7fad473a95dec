package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

// sanitizeBase normalises a mount point to "" or "/seg[/seg...]" without a
// trailing slash.
func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// writeJSON writes v with the given code. Status is live data, so responses
// are never cached.
func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Header("Cache-Control", "no-store")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
