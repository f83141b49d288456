package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// errBadRequest помечает нераспознанное тело запроса или идентификатор в пути.
var errBadRequest = errors.New("bad request")

// ErrorInfo: тело ответа с ошибкой.
type ErrorInfo struct {
	Timestamp  time.Time `json:"timestamp"`
	Path       string    `json:"path"`
	HTTPStatus int       `json:"httpStatus"`
	Message    string    `json:"message"`
}

// StatusFor сопоставляет доменную ошибку HTTP-статусу.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, domain.ErrMalformedMessage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Warn("encode response failed")
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		message = http.StatusText(status)
	}

	writeJSON(w, r, status, ErrorInfo{
		Timestamp:  a.now().UTC(),
		Path:       r.URL.Path,
		HTTPStatus: status,
		Message:    message,
	})
}
