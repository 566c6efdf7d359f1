package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	apperrors "github.com/charlesng35/todomaster/pkg/errors"
	"github.com/charlesng35/todomaster/pkg/response"
	"github.com/charlesng35/todomaster/pkg/validator"
)

const invalidPayloadMessage = "invalid request payload"

// bindAndValidate decodes the JSON body into dest and applies its validation
// tags. On failure the 400 response is written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := validator.ValidateStruct(dest); err != nil {
		response.Error(c, apperrors.NewBadRequest(validationMessage(err)))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var failures validator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return invalidPayloadMessage
	}
	return failures.Messages()
}
