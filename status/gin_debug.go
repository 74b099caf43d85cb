//go:build !release
// +build !release

package status

import (
	"github.com/gin-gonic/gin"
)

// newEngine sets up Gin in debug mode for development builds
func newEngine() *gin.Engine {
	// Gin will be in debug mode by default
	return gin.New()
}
