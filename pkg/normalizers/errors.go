package normalizers

import (
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// ValidationError reports which raw fields made a record unusable. It is
// fatal to that one record only; the batch keeps going.
type ValidationError struct {
	Fields  []string
	Message string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{
		Fields:  []string{field},
		Message: msg,
	}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return "invalid field(s) " + strings.Join(e.Fields, ", ") + ": " + e.Message
}

func (e *ValidationError) AddField(field string) *ValidationError {
	e.Fields = append(e.Fields, field)
	return e
}

func (e *ValidationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).AddMetaValue("fields", strings.Join(e.Fields, ","))
}

func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}
