// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package compiler

import (
	"context"
	"os"
	"path/filepath"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
)

// ServiceKind selects one of the service configuration compilers.
type ServiceKind string

const (
	ServiceDHCP       ServiceKind = "dhcp"
	ServiceHAProxy    ServiceKind = "haproxy"
	ServiceKeepalived ServiceKind = "keepalived"
)

// ParseServiceKind validates a wire value into a ServiceKind.
func ParseServiceKind(s string) (ServiceKind, error) {
	switch ServiceKind(s) {
	case ServiceDHCP, ServiceHAProxy, ServiceKeepalived:
		return ServiceKind(s), nil
	}
	return "", errors.Errorf(errors.KindValidation, "unknown service kind: %q", s)
}

// FileName is the artifact name the kind compiles into.
func (k ServiceKind) FileName() string {
	switch k {
	case ServiceDHCP:
		return "dhcpd.conf"
	case ServiceHAProxy:
		return "haproxy.cfg"
	case ServiceKeepalived:
		return "keepalived.conf"
	}
	return string(k) + ".conf"
}

// CompileService compiles the service rules of a firewall into per-rule
// segments, optionally restricted to specific rule ids.
func (s *ScriptService) CompileService(ctx context.Context, kind ServiceKind, fwcloudID, firewallID int64, ruleIDs []int64, sink events.Sink) ([]ServiceSegment, error) {
	if _, err := s.loadFirewall(ctx, fwcloudID, firewallID); err != nil {
		return nil, err
	}

	switch kind {
	case ServiceDHCP:
		rules, err := s.asm.AssembleDHCP(ctx, fwcloudID, firewallID, ruleIDs)
		if err != nil {
			return nil, err
		}
		return CompileDHCP(rules, sink), nil
	case ServiceHAProxy:
		rules, err := s.asm.AssembleHAProxy(ctx, fwcloudID, firewallID, ruleIDs)
		if err != nil {
			return nil, err
		}
		return CompileHAProxy(rules, sink), nil
	case ServiceKeepalived:
		rules, err := s.asm.AssembleKeepalived(ctx, fwcloudID, firewallID, ruleIDs)
		if err != nil {
			return nil, err
		}
		return CompileKeepalived(rules, sink), nil
	}
	return nil, errors.Errorf(errors.KindValidation, "unknown service kind: %q", kind)
}

// CompileServiceConfig writes the service configuration artifact next to the
// policy script and returns its path.
func (s *ScriptService) CompileServiceConfig(ctx context.Context, kind ServiceKind, fwcloudID, firewallID int64, sink events.Sink) (string, error) {
	segments, err := s.CompileService(ctx, kind, fwcloudID, firewallID, nil, sink)
	if err != nil {
		return "", err
	}

	path := s.cfg.ServiceConfigPath(fwcloudID, firewallID, kind.FileName())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "creating %s directory", kind)
	}
	if err := os.WriteFile(path, []byte(ConcatSegments(segments)), 0o644); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "writing %s", kind.FileName())
	}

	s.logger.Info("service config generated",
		"kind", string(kind), "firewall", firewallID, "path", path)
	return path, nil
}
