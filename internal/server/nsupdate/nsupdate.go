// Copyright (c) 2025 FatalMerlin
//
// BSD 3-Clause License
// See LICENSE file in the project root for details.

// Package nsupdate applies single-hostname address record changes through
// the nsupdate line protocol.
package nsupdate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Mode selects the direction of a DNS mutation.
type Mode string

const (
	ModeAdd    Mode = "add"
	ModeDelete Mode = "delete"
)

// RecordTTL is the fixed TTL applied to added address records.
const RecordTTL = 3600

// MutationError carries the transport's diagnostic text for a failed update.
type MutationError struct {
	Hostname string
	Mode     Mode
	Output   string
	Err      error
}

func (e *MutationError) Error() string {
	msg := fmt.Sprintf("dns %s for %s failed", e.Mode, e.Hostname)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MutationError) Unwrap() error { return e.Err }

// Transport executes one update transcript against the zone's server and
// returns the transport's combined diagnostic output.
type Transport interface {
	Send(ctx context.Context, transcript string) (string, error)
}

// ExecTransport speaks the update protocol to an external nsupdate binary
// over its standard streams.
type ExecTransport struct {
	// Path is the nsupdate binary, e.g. /usr/bin/nsupdate.
	Path string
	// Timeout bounds a single invocation. Zero means 30s.
	Timeout time.Duration
}

var _ Transport = (*ExecTransport)(nil)

// Send pipes the transcript into the binary and waits for it to exit. A
// non-zero exit status or any stderr output is a failure.
func (t *ExecTransport) Send(ctx context.Context, transcript string) (string, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.Path, "-4")
	cmd.Stdin = strings.NewReader(transcript)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	diag := strings.TrimSpace(stderr.String())
	if err != nil {
		if diag == "" {
			diag = strings.TrimSpace(stdout.String())
		}
		return diag, fmt.Errorf("run %s: %w", t.Path, err)
	}
	if diag != "" {
		return diag, fmt.Errorf("%s reported: %s", t.Path, diag)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Transcript renders the update protocol for one hostname. Every transcript
// deletes any existing address record first; add mode appends a fresh record
// pointing at target, so repeated adds converge on exactly one record.
func Transcript(server, zone, hostname, target string, mode Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "server %s\n", server)
	fmt.Fprintf(&b, "zone %s\n", zone)
	fmt.Fprintf(&b, "update delete %s A\n", hostname)
	if mode == ModeAdd {
		fmt.Fprintf(&b, "update add %s %d A %s\n", hostname, RecordTTL, target)
	}
	b.WriteString("send\nquit\n")
	return b.String()
}

// Updater applies add/delete operations for single hostnames against the
// configured server and zone.
type Updater struct {
	server    string
	zone      string
	target    string
	transport Transport
	logger    *slog.Logger
}

// NewUpdater wires an Updater to a transport.
func NewUpdater(server, zone, target string, transport Transport, logger *slog.Logger) *Updater {
	return &Updater{server: server, zone: zone, target: target, transport: transport, logger: logger}
}

// Apply issues the delete-then-add (or delete-only) sequence for hostname.
// Failures surface as *MutationError; the caller decides whether to retry.
func (u *Updater) Apply(ctx context.Context, hostname string, mode Mode) error {
	u.logger.Info("updating dns entry", "hostname", hostname, "mode", string(mode))

	transcript := Transcript(u.server, u.zone, hostname, u.target, mode)
	output, err := u.transport.Send(ctx, transcript)
	if err != nil {
		return &MutationError{Hostname: hostname, Mode: mode, Output: output, Err: err}
	}

	u.logger.Debug("updated dns entry", "hostname", hostname, "output", output)
	return nil
}
