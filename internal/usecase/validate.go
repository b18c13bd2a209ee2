package usecase

import (
	"regexp"
	"strings"
)

const maxThreadIDLength = 256

var threadIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_@-]*$`)

// ValidateThreadID trims and checks a conversation id.
func ValidateThreadID(threadID string) (string, error) {
	threadID = strings.TrimSpace(threadID)
	switch {
	case threadID == "":
		return "", newError(ErrorInvalidInput, "empty_thread_id", nil)
	case len(threadID) > maxThreadIDLength:
		return "", newError(ErrorInvalidInput, "thread_id_too_long", nil)
	case !threadIDPattern.MatchString(threadID):
		return "", newError(ErrorInvalidInput, "invalid_thread_id", nil)
	}
	return threadID, nil
}

func validateUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	return userID, nil
}
