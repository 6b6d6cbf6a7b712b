package webhook

import (
	"errors"
	"log"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/zulandar/listingdesk/internal/apperr"
)

var fieldNamesOnce sync.Once

// useJSONFieldNames makes binding errors report json field names.
func useJSONFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
}

// bindError converts a gin binding failure to a validation error.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Invalid("body", err.Error())
	}
	ve := &apperr.ValidationError{}
	for _, fe := range verrs {
		msg := "is invalid"
		if fe.Tag() == "required" {
			msg = "is required"
		}
		ve.Add(fe.Field(), msg)
	}
	return ve
}

// writeError maps an error onto a status code and JSON body.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		body := gin.H{"error": err.Error()}
		if fields := apperr.FieldsOf(err); len(fields) > 0 {
			body["fields"] = fields
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("webhook: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
