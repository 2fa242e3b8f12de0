package queue

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// Kind classifies queue failures so callers never inspect error text.
type Kind int

const (
	KindUnknown Kind = iota
	// KindQuotaExceeded means the hosted backend refused the command for the current billing window.
	KindQuotaExceeded
	// KindConnReset means an idle pooled connection was reset by the peer.
	KindConnReset
)

func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindConnReset:
		return "conn_reset"
	default:
		return "unknown"
	}
}

type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("queue %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return KindConnReset
	}
	return KindUnknown
}

func IsQuotaExceeded(err error) bool {
	return KindOf(err) == KindQuotaExceeded
}

func IsConnReset(err error) bool {
	return KindOf(err) == KindConnReset
}

// quotaReplies are the server replies hosted Redis providers send when a plan limit is hit.
var quotaReplies = []string{
	"max requests limit exceeded",
	"max daily request limit exceeded",
	"max monthly request limit exceeded",
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindUnknown
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		kind = KindConnReset
	case isQuotaReply(err):
		kind = KindQuotaExceeded
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

func isQuotaReply(err error) bool {
	var reply redis.Error
	if !errors.As(err, &reply) {
		return false
	}
	msg := strings.ToLower(reply.Error())
	for _, q := range quotaReplies {
		if strings.Contains(msg, q) {
			return true
		}
	}
	return false
}
