// Package metrics exposes Prometheus collectors for the dispatch engine.
//
// Every method is safe to call on a nil *Engine, so components take an
// optional engine and call it unconditionally.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/risa-org/cdp/protocol"
)

// DefaultNamespace is used when New is given an empty namespace.
const DefaultNamespace = "cdp"

// Call outcomes, used as the "outcome" label.
const (
	OutcomeOK             = "ok"
	OutcomeProtocolError  = "protocol_error"
	OutcomeTimeout        = "timeout"
	OutcomeCanceled       = "canceled"
	OutcomeSessionClosed  = "session_closed"
	OutcomeConnectionLost = "connection_lost"
	OutcomeSendFailed     = "send_failed"
)

// Engine groups the engine's collectors.
type Engine struct {
	callsSent        *prometheus.CounterVec
	callsFinished    *prometheus.CounterVec
	callLatency      *prometheus.HistogramVec
	eventsDispatched *prometheus.CounterVec
	listenerFailures *prometheus.CounterVec
	unknownResponses prometheus.Counter
	malformedFrames  prometheus.Counter
	framesSent       prometheus.Counter
	framesThrottled  prometheus.Counter
	pendingCalls     prometheus.Gauge
	liveSessions     prometheus.Gauge
}

// New registers the engine's collectors with reg. A nil reg registers
// with the default registry.
func New(reg prometheus.Registerer, namespace string) *Engine {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Engine{
		callsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "call",
				Name:      "sent_total",
				Help:      "Total number of commands written to the transport",
			},
			[]string{"method"},
		),
		callsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "call",
				Name:      "finished_total",
				Help:      "Total number of calls completed, by outcome",
			},
			[]string{"method", "outcome"},
		),
		callLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "call",
				Name:      "latency_seconds",
				Help:      "Time from send to completion in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"method"},
		),
		eventsDispatched: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "event",
				Name:      "dispatched_total",
				Help:      "Total number of events handed to the router",
			},
			[]string{"method"},
		),
		listenerFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "event",
				Name:      "listener_failures_total",
				Help:      "Total number of listener errors and panics",
			},
			[]string{"method"},
		),
		unknownResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "unknown_responses_total",
			Help:      "Responses dropped because no call was waiting for them",
		}),
		malformedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "malformed_total",
			Help:      "Inbound frames dropped as undecodable",
		}),
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "sent_total",
			Help:      "Frames written to the transport",
		}),
		framesThrottled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "throttled_total",
			Help:      "Frames that waited on the send rate limiter",
		}),
		pendingCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "call",
			Name:      "pending",
			Help:      "Calls awaiting a response",
		}),
		liveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "attached",
			Help:      "Sessions currently attached",
		}),
	}
}

// CallSent records a command handed to the transport.
func (e *Engine) CallSent(method string) {
	if e == nil {
		return
	}
	e.callsSent.WithLabelValues(method).Inc()
	e.pendingCalls.Inc()
}

// CallFinished records the completion of a call that CallSent counted.
func (e *Engine) CallFinished(method string, err error, elapsed time.Duration) {
	if e == nil {
		return
	}
	e.pendingCalls.Dec()
	e.callsFinished.WithLabelValues(method, Outcome(err)).Inc()
	e.callLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// EventDispatched records an event handed to the router.
func (e *Engine) EventDispatched(method string) {
	if e == nil {
		return
	}
	e.eventsDispatched.WithLabelValues(method).Inc()
}

// ListenerFailed records a listener error or panic.
func (e *Engine) ListenerFailed(method string) {
	if e == nil {
		return
	}
	e.listenerFailures.WithLabelValues(method).Inc()
}

// UnknownResponse records a response with no waiting call.
func (e *Engine) UnknownResponse() {
	if e == nil {
		return
	}
	e.unknownResponses.Inc()
}

// MalformedFrame records an undecodable inbound frame.
func (e *Engine) MalformedFrame() {
	if e == nil {
		return
	}
	e.malformedFrames.Inc()
}

// FrameSent records one frame written to the transport.
func (e *Engine) FrameSent() {
	if e == nil {
		return
	}
	e.framesSent.Inc()
}

// FrameThrottled records a frame delayed by the rate limiter.
func (e *Engine) FrameThrottled() {
	if e == nil {
		return
	}
	e.framesThrottled.Inc()
}

// SessionAttached increments the attached-session gauge.
func (e *Engine) SessionAttached() {
	if e == nil {
		return
	}
	e.liveSessions.Inc()
}

// SessionDetached decrements the attached-session gauge.
func (e *Engine) SessionDetached() {
	if e == nil {
		return
	}
	e.liveSessions.Dec()
}

// Outcome classifies a call error into an outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, protocol.ErrProtocol):
		return OutcomeProtocolError
	case errors.Is(err, protocol.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, protocol.ErrSessionClosed):
		return OutcomeSessionClosed
	case errors.Is(err, protocol.ErrConnectionLost):
		return OutcomeConnectionLost
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeSendFailed
	}
}
