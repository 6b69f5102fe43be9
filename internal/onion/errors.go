package onion

import (
	"errors"
	"fmt"
	"net/textproto"
)

// ReplyError is a 4xx or 5xx reply from the control port.
type ReplyError struct {
	Code    int
	Message string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("tor control reply %d: %s", e.Code, e.Message)
}

func wrapReply(op string, err error) error {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return fmt.Errorf("%s: %w", op, &ReplyError{Code: tpErr.Code, Message: tpErr.Msg})
	}
	return fmt.Errorf("%s: %w", op, err)
}
