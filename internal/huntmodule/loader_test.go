package huntmodule

import "testing"

const sampleModule = `---
id: linux-persistence-triage
name: Linux Persistence Triage
description: Enumerate common persistence mechanisms.
os_types: [linux]
tags: [persistence, triage]
severity_hint: medium
---

## step: list_cron
description: List system and user crontabs.
command: crontab -l; cat /etc/crontab
timeout: 10
requires_sudo: false

## step: list_systemd_timers
description: List enabled systemd timers.
command: systemctl list-timers --all
timeout: 15
requires_sudo: true
`

func TestParseRoundTrip(t *testing.T) {
	m, err := Parse(sampleModule)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.ID.String() != "linux-persistence-triage" {
		t.Fatalf("unexpected id: %s", m.ID)
	}
	if len(m.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(m.Steps))
	}
	if m.Steps[0].ID != "list_cron" || m.Steps[1].ID != "list_systemd_timers" {
		t.Fatalf("steps out of order: %+v", m.Steps)
	}
	if !m.Steps[1].RequiresSudo {
		t.Fatalf("expected second step to require sudo")
	}
	if m.Steps[0].TimeoutSeconds != 10 {
		t.Fatalf("expected timeout 10, got %d", m.Steps[0].TimeoutSeconds)
	}

	rendered, err := Render(m)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	reparsed, err := Parse(rendered)
	if err != nil {
		t.Fatalf("re-parsing rendered module: %v", err)
	}
	if len(reparsed.Steps) != len(m.Steps) {
		t.Fatalf("round trip lost steps: got %d want %d", len(reparsed.Steps), len(m.Steps))
	}
}

func TestParseRejectsMissingCommand(t *testing.T) {
	bad := `---
id: broken
name: Broken
---

## step: no_command
description: has no command field
`
	if _, err := Parse(bad); err == nil {
		t.Fatalf("expected error for step missing a command")
	}
}

func TestApplyOverlayDisablesStep(t *testing.T) {
	m, err := Parse(sampleModule)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	overlay := `{
		// turn off the sudo-requiring step for this deployment
		"steps": {
			"list_systemd_timers": { "disabled": true }
		}
	}`
	out, err := applyOverlay(m, overlay)
	if err != nil {
		t.Fatalf("applyOverlay: %v", err)
	}
	if len(out.Steps) != 1 {
		t.Fatalf("expected overlay to disable one step, got %d remaining", len(out.Steps))
	}
}
