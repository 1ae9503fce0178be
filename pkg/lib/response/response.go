package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// Response is the envelope of every control API reply.
type Response struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

const (
	StatusOK    = "success"
	StatusError = "error"
)

func OK() Response {
	return Response{
		Status: StatusOK,
	}
}

func Success(data interface{}) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

func Error(message string) Response {
	return Response{
		Status: StatusError,
		Error:  message,
	}
}

func SendSuccess(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	render.Status(r, statusCode)
	render.JSON(w, r, Success(data))
}

func SendOK(w http.ResponseWriter, r *http.Request, statusCode int) {
	render.Status(r, statusCode)
	render.JSON(w, r, OK())
}

func SendError(w http.ResponseWriter, r *http.Request, statusCode int, errorMessage string) {
	render.Status(r, statusCode)
	render.JSON(w, r, Error(errorMessage))
}

func SendValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var errMsgs []string
	var validationErrs validator.ValidationErrors

	if errors.As(err, &validationErrs) {
		for _, fe := range validationErrs {
			errMsgs = append(errMsgs, fmt.Sprintf("field '%s' failed on a '%s' validation", strings.ToLower(fe.Field()), fe.Tag()))
		}
	} else {
		errMsgs = append(errMsgs, err.Error())
	}

	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, Error(strings.Join(errMsgs, "; ")))
}
