package revocation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/prometheus/client_golang/prometheus"
)

// Source yields revocation notices from some subscription channel.
type Source interface {
	// Next blocks until a notice arrives, the source fails terminally, or
	// ctx is done. A terminal failure is returned as an error and the
	// source must not be used afterwards.
	Next(ctx context.Context) (Notice, error)
}

// Action reacts to a verified revocation notice. Actions are invoked
// exactly once per notice; an action error is logged but does not stop the
// listener.
type Action interface {
	HandleNotice(ctx context.Context, notice Notice) error
}

// ListenerConfig wires a Listener.
type ListenerConfig struct {
	Source   Source
	Verifier *Verifier
	Actions  []Action
	Log      *slog.Logger

	// Received and Rejected count verified and dropped notices. Either
	// may be nil.
	Received prometheus.Counter
	Rejected prometheus.Counter
}

// Listener consumes notices from a source, verifies them, and dispatches
// the verified ones to the configured actions.
type Listener struct {
	source   Source
	verifier *Verifier
	actions  []Action
	log      *slog.Logger
	received prometheus.Counter
	rejected prometheus.Counter
}

// NewListener creates a listener from the config.
func NewListener(cfg *ListenerConfig) *Listener {
	return &Listener{
		source:   cfg.Source,
		verifier: cfg.Verifier,
		actions:  cfg.Actions,
		log:      cfg.Log,
		received: cfg.Received,
		rejected: cfg.Rejected,
	}
}

// Run consumes notices until the source fails terminally or ctx is
// canceled. A notice with an invalid signature or undecodable payload is
// dropped and logged; it never reaches the actions and never stops the
// listener. Cancellation returns ctx.Err().
func (l *Listener) Run(ctx context.Context) error {
	l.log.Info("Revocation listener started")

	for {
		notice, err := l.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info("Revocation listener stopped")
				return ctx.Err()
			}
			return fmt.Errorf("revocation source failed: %w", err)
		}

		if err := l.verifier.Verify(notice); err != nil {
			l.log.Warn("Dropping revocation notice with invalid signature", "err", err)
			l.count(l.rejected)
			continue
		}

		var decoded NoticePayload
		if err := json.Unmarshal(notice.Payload, &decoded); err != nil {
			l.log.Warn("Dropping revocation notice with undecodable payload", "err", err)
			l.count(l.rejected)
			continue
		}

		l.count(l.received)
		l.log.Warn("Revocation notice received",
			"type", decoded.Type,
			"agent", decoded.AgentID,
			"reason", decoded.Reason,
		)

		for _, action := range l.actions {
			if err := action.HandleNotice(ctx, notice); err != nil {
				l.log.Error("Revocation action failed", "err", err)
			}
		}
	}
}

func (l *Listener) count(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// ChanSource yields notices from a channel. Closing the channel makes the
// source fail terminally. Used by tests and in-process wiring.
type ChanSource struct {
	C chan Notice
}

// Next implements Source.
func (s *ChanSource) Next(ctx context.Context) (Notice, error) {
	select {
	case <-ctx.Done():
		return Notice{}, ctx.Err()
	case notice, ok := <-s.C:
		if !ok {
			return Notice{}, errors.New("notice channel closed")
		}
		return notice, nil
	}
}

// ScriptAction runs a configured executable for every verified notice with
// the raw payload on stdin.
type ScriptAction struct {
	Path string
	Log  *slog.Logger
}

// HandleNotice implements Action.
func (a *ScriptAction) HandleNotice(ctx context.Context, notice Notice) error {
	cmd := exec.CommandContext(ctx, a.Path)
	cmd.Stdin = bytes.NewReader(notice.Payload)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("revocation script failed: %w (output: %s)", err, string(out))
	}

	a.Log.Info("Revocation script completed", "path", a.Path)
	return nil
}
