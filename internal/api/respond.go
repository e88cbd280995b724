package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/gustycube/podwatch/internal/directory"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("query"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, details map[string]string) {
	respondJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// fail maps a directory error onto a status code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found", map[string]string{"reason": err.Error()})
	case errors.Is(err, directory.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, "Invalid request", map[string]string{"reason": err.Error()})
	default:
		s.log.Errorw("request failed", "path", r.URL.Path, "err", err)
		respondError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

// bindQuery fills the int and string fields of dst (a struct pointer) from
// the query string by their `query` tag and validates the result.
func bindQuery(r *http.Request, dst any) map[string]string {
	details := map[string]string{}
	q := r.URL.Query()
	v := reflect.ValueOf(dst).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("query")
		raw := strings.TrimSpace(q.Get(name))
		if name == "" || raw == "" {
			continue
		}
		f := v.Field(i)
		switch f.Kind() {
		case reflect.String:
			f.SetString(raw)
		case reflect.Int:
			n, err := strconv.Atoi(raw)
			if err != nil {
				details[name] = "must be an integer"
				continue
			}
			f.SetInt(int64(n))
		}
	}
	if len(details) > 0 {
		return details
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return map[string]string{"query": err.Error()}
		}
		for _, fe := range verrs {
			details[fe.Field()] = describe(fe)
		}
		return details
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return fmt.Sprintf("validation failed: %s", fe.Tag())
}
