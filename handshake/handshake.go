// Package handshake runs the attach and detach flows that create and end
// target sessions over a connection's root session.
package handshake

import (
	"context"
	"errors"
	"fmt"

	"github.com/risa-org/cdp/domain/target"
	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/session"
)

// Named reasons carried by Error.
const (
	ReasonRemoteRejected  = "remote_rejected"  // the browser refused the command
	ReasonRegisterFailed  = "register_failed"  // the connection would not take the session
	ReasonRootSession     = "root_session"     // the root session cannot be detached
	ReasonAlreadyDetached = "already_detached" // nothing left to detach
)

// Error reports a failed attach or detach.
type Error struct {
	Op     string // "attach" or "detach"
	ID     string // target id for attach, session key for detach
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("handshake: %s %s: %s", e.Op, e.ID, e.Reason)
	}
	return fmt.Sprintf("handshake: %s %s: %s: %v", e.Op, e.ID, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Connection is what the handshake needs from the connection owning the
// sessions. *conn.Conn satisfies it.
type Connection interface {
	Root() *session.Session
	NewSession(key, targetID string) (*session.Session, error)
}

// Handler runs attach and detach for one connection.
type Handler struct {
	conn Connection
	log  logging.Logger
}

// NewHandler returns a handler for c.
func NewHandler(c Connection, log logging.Logger) *Handler {
	return &Handler{conn: c, log: logging.OrNop(log)}
}

// Attach attaches to targetID and returns the new session, already in
// StateAttached.
//
// Steps:
//  1. Send Target.attachToTarget (flat mode) on the root session
//  2. Register a session under the returned key; it starts Attaching
//  3. Mark it Attached
//
// If the browser accepts but the session cannot be registered, a
// best-effort Target.detachFromTarget is sent so the remote side does not
// keep a session nobody owns.
func (h *Handler) Attach(ctx context.Context, targetID string, opts ...session.CallOption) (*session.Session, error) {
	root := h.conn.Root()

	key, err := target.New(root).AttachToTarget(ctx, targetID, opts...)
	if err != nil {
		return nil, &Error{Op: "attach", ID: targetID, Reason: ReasonRemoteRejected, Err: err}
	}

	sess, err := h.conn.NewSession(key, targetID)
	if err != nil {
		if sendErr := root.Send(ctx, target.Domain, "detachFromTarget", map[string]any{"sessionId": key}); sendErr != nil {
			h.log.Warn("orphaned session left attached", "session", key, "err", sendErr)
		}
		return nil, &Error{Op: "attach", ID: targetID, Reason: ReasonRegisterFailed, Err: err}
	}

	if !sess.MarkAttached() {
		// Detached between registration and here, e.g. the connection dropped.
		return nil, &Error{Op: "attach", ID: targetID, Reason: ReasonRegisterFailed, Err: sess.Err()}
	}

	h.log.Info("attached", "target", targetID, "session", key)
	return sess, nil
}

// Detach asks the browser to detach sess and then detaches it locally.
// The local detach happens even when the remote command fails, so a
// session is never left half-open; the remote error is still returned.
func (h *Handler) Detach(ctx context.Context, sess *session.Session, opts ...session.CallOption) error {
	if sess.IsRoot() {
		return &Error{Op: "detach", ID: "root", Reason: ReasonRootSession}
	}
	if sess.State() == session.StateDetached {
		return &Error{Op: "detach", ID: sess.Key(), Reason: ReasonAlreadyDetached, Err: sess.Err()}
	}

	err := target.New(h.conn.Root()).DetachFromTarget(ctx, sess.Key(), opts...)
	sess.Detach(protocol.ErrSessionClosed)

	if err != nil {
		return &Error{Op: "detach", ID: sess.Key(), Reason: ReasonRemoteRejected, Err: err}
	}
	h.log.Info("detached", "target", sess.TargetID(), "session", sess.Key())
	return nil
}

// IsReason reports whether err is a handshake Error with the given reason.
func IsReason(err error, reason string) bool {
	var he *Error
	return errors.As(err, &he) && he.Reason == reason
}
