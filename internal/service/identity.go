package service

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Identity distinguishes one worker replica from another in logs and metrics.
type Identity struct {
	Hostname string
	PID      int
}

// ResolveIdentity prefers the configured hostname and falls back to the OS one.
func ResolveIdentity(hostname string) Identity {
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	if hostname == "" {
		hostname = "unknown"
	}
	return Identity{Hostname: hostname, PID: os.Getpid()}
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%d", i.Hostname, i.PID)
}

func (i Identity) fields() []zap.Field {
	return []zap.Field{zap.String("hostname", i.Hostname), zap.Int("pid", i.PID)}
}
