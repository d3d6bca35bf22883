package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const maxIdempotencyKeyLen = 128

func idempotencyKeyFromHeader(c *gin.Context) (string, bool) {
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	return key, len(key) <= maxIdempotencyKeyLen
}
