// internal/handler/errors.go
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/utils"
)

// driverError binds a driver sentinel to its reply
type driverError struct {
	target  error
	status  int
	code    string
	message string
}

// writeDriverError replies for a known sentinel in err's chain and reports
// whether one matched.
func writeDriverError(c *gin.Context, known []driverError, err error) bool {
	for _, de := range known {
		if errors.Is(err, de.target) {
			utils.ErrorCodeResponse(c, de.status, de.code, de.message, err)
			return true
		}
	}
	return false
}
