// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf})

	logger.WithComponent("compiler").Info("compilation finished", "firewall", 7)

	out := buf.String()
	if !strings.Contains(out, "[info]") {
		t.Errorf("missing level tag: %s", out)
	}
	if !strings.Contains(out, "compiler:") {
		t.Errorf("component not promoted to header: %s", out)
	}
	if !strings.Contains(out, "firewall=7") {
		t.Errorf("missing attribute: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Info("should not appear")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Error("info line leaked through warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn line missing")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelError, Output: &buf})

	logger.Debug("hidden")
	logger.SetLevel(LevelDebug)
	logger.Debug("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line logged before level change")
	}
	if !strings.Contains(out, "visible") {
		t.Error("debug line missing after level change")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.WithFields(map[string]any{"fwcloud": 1}).Info("scoped")

	if !strings.Contains(buf.String(), "fwcloud=1") {
		t.Errorf("pre-bound field missing: %s", buf.String())
	}
}
