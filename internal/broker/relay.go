package broker

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/config"
)

// relayReply is the XML envelope the relay-mapper executable prints on
// stdout: <relay><host/><port/><ca_cert/></relay>. encoding/xml is used
// rather than an ecosystem parser because this is the one ad-hoc wire
// format in the whole subsystem — a single subprocess reply, not a
// protocol any of the example repos already bring a library for.
type relayReply struct {
	XMLName xml.Name `xml:"relay"`
	Host    string   `xml:"host"`
	Port    string   `xml:"port"`
	CACert  string   `xml:"ca_cert"`
}

// Resolved is the (possibly relayed) address a dispatch variant should
// actually dial.
type Resolved struct {
	Host   string
	Port   int
	CACert string
}

// RelayResolver shells out to an external relay-mapper executable to
// translate a scanner's configured address into the address a relay
// actually listening on the controller's behalf should be reached at
// (spec §4.B resolve_relay). With no MapperPath configured, Resolve is
// the identity transform.
type RelayResolver struct {
	MapperPath string
	Timeout    time.Duration
}

func NewRelayResolver(cfg config.RelayConfig) *RelayResolver {
	if cfg.MapperPath == "" {
		return nil
	}
	return &RelayResolver{MapperPath: cfg.MapperPath, Timeout: cfg.Timeout}
}

// Resolve runs the mapper with (host, port, ca, protocol) as arguments and
// parses its XML reply. An empty host/port in the reply means "no relay
// for this scanner" and the original address is returned unchanged.
func (r *RelayResolver) Resolve(ctx context.Context, host string, port int, ca, protocol string) (Resolved, error) {
	if r == nil || r.MapperPath == "" {
		return Resolved{Host: host, Port: port, CACert: ca}, nil
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.MapperPath, host, strconv.Itoa(port), ca, protocol)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Resolved{}, apperror.Wrap(apperror.ScannerUnreachable,
			fmt.Sprintf("relay-mapper failed: %s", stderr.String()), err)
	}

	var reply relayReply
	if err := xml.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return Resolved{}, apperror.Wrap(apperror.ScannerProtocol, "relay-mapper returned malformed XML", err)
	}
	if reply.Host == "" || reply.Port == "" {
		return Resolved{Host: host, Port: port, CACert: ca}, nil
	}

	resolvedPort, err := strconv.Atoi(reply.Port)
	if err != nil {
		return Resolved{}, apperror.Wrap(apperror.ScannerProtocol, "relay-mapper returned non-numeric port", err)
	}
	return Resolved{Host: reply.Host, Port: resolvedPort, CACert: reply.CACert}, nil
}
