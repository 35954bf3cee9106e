package arena

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an outcome to the status a REST caller receives.
func (o Outcome) HTTPStatus() int {
	switch o {
	case Forbidden:
		return http.StatusForbidden
	case NoSession, NotParticipant:
		return http.StatusNotFound
	case AlreadyRunning, RoomNotEligible, AlreadyEnded, RoomFull:
		return http.StatusConflict
	case Ignored:
		return http.StatusGone
	}
	return http.StatusOK
}

// ErrorStatus maps a dispatch error to an HTTP status and error code.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound, "room_not_found"
	case errors.Is(err, ErrRoomDeleted):
		return http.StatusGone, "room_deleted"
	}
	return http.StatusServiceUnavailable, "unavailable"
}
