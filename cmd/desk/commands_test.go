package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testConfig writes a sqlite config into a temp dir and returns its path.
func testConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "listingdesk.yaml")
	body := "database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "desk.db") + "\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func migrated(t *testing.T, extra string) string {
	t.Helper()
	cfg := testConfig(t, extra)
	if out, err := run(t, "", "db", "migrate", "-c", cfg); err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	return cfg
}

func TestDBMigrate(t *testing.T) {
	cfg := testConfig(t, "")
	out, err := run(t, "", "db", "migrate", "-c", cfg)
	if err != nil {
		t.Fatalf("db migrate: %v", err)
	}
	if !strings.Contains(out, "Connected to sqlite database") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "Migrated 10 tables") {
		t.Errorf("output = %q, want table count", out)
	}
}

func TestDBMigrate_MissingConfig(t *testing.T) {
	_, err := run(t, "", "db", "migrate", "--config", "/nonexistent/listingdesk.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "load config")
	}
}

func TestServeCmd_Help(t *testing.T) {
	out, err := run(t, "", "serve", "--help")
	if err != nil {
		t.Fatalf("serve --help: %v", err)
	}
	for _, want := range []string{"--port", "--no-sweep", "listingdesk.yaml"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q", want)
		}
	}
}

func TestWorkflowImportListDisable(t *testing.T) {
	cfg := migrated(t, "")
	def := filepath.Join(t.TempDir(), "welcome.json")
	body := `{"name":"Welcome","trigger":{"type":"new_lead"},"actions":[{"type":"add_tag","tag":"welcomed"}]}`
	if err := os.WriteFile(def, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "workflow", "import", def, "--user", "agent-1", "-c", cfg)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Created workflow") || !strings.Contains(out, "Welcome") {
		t.Fatalf("import output = %q", out)
	}
	id := strings.Fields(strings.TrimPrefix(out, "Created workflow "))[0]

	out, err = run(t, "", "workflow", "list", "--user", "agent-1", "-c", cfg)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "true") {
		t.Errorf("list output = %q", out)
	}

	out, err = run(t, "", "workflow", "list", "--user", "agent-2", "-c", cfg)
	if err != nil {
		t.Fatalf("list other user: %v", err)
	}
	if !strings.Contains(out, "No workflows found.") {
		t.Errorf("other user's list = %q", out)
	}

	if _, err := run(t, "", "workflow", "disable", id, "-c", cfg); err != nil {
		t.Fatalf("disable: %v", err)
	}
	out, _ = run(t, "", "workflow", "list", "--user", "agent-1", "-c", cfg)
	if !strings.Contains(out, "false") {
		t.Errorf("list after disable = %q", out)
	}

	if _, err := run(t, "", "workflow", "runs", id, "-c", cfg); err != nil {
		t.Errorf("runs: %v", err)
	}
}

func TestWorkflowImport_Invalid(t *testing.T) {
	cfg := migrated(t, "")
	def := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(def, []byte(`{"name":"","trigger":{"type":"nope"},"actions":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "", "workflow", "import", def, "--user", "agent-1", "-c", cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestWorkflowCancel_NotFound(t *testing.T) {
	cfg := migrated(t, "")
	_, err := run(t, "", "workflow", "cancel", "missing-run", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestDispatch(t *testing.T) {
	cfg := migrated(t, "")

	t.Run("invalid type", func(t *testing.T) {
		_, err := run(t, "", "dispatch", "--type", "bogus", "--contact", "c1", "-c", cfg)
		if err == nil || !strings.Contains(err.Error(), "unknown type") {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("field change needs field", func(t *testing.T) {
		_, err := run(t, "", "dispatch", "--type", "field_change", "--contact", "c1", "-c", cfg)
		if err == nil || !strings.Contains(err.Error(), "data.field") {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("no workflows", func(t *testing.T) {
		out, err := run(t, "", "dispatch", "--type", "stage_change", "--contact", "c1",
			"--data", "from_stage=lead", "--data", "to_stage=qualified", "-c", cfg)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if !strings.Contains(out, "No workflows matched.") {
			t.Errorf("output = %q", out)
		}
	})
}

func TestDispatch_ShorthandFlags(t *testing.T) {
	cfg := migrated(t, "")
	dir := t.TempDir()
	defs := map[string]string{
		"qualified.json": `{"name":"Qualified","trigger":{"type":"stage_change","to_stage":"qualified"},"actions":[{"type":"add_tag","tag":"hot"}]}`,
		"budget.json":    `{"name":"Budget","trigger":{"type":"field_change","field":"budget"},"actions":[{"type":"add_tag","tag":"priced"}]}`,
	}
	for name, body := range defs {
		def := filepath.Join(dir, name)
		if err := os.WriteFile(def, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if out, err := run(t, "", "workflow", "import", def, "--user", "agent-1", "-c", cfg); err != nil {
			t.Fatalf("import %s: %v\n%s", name, err, out)
		}
	}

	// A matched workflow loads the contact, so an unknown contact id
	// surfaces as not found only when the flags reached the trigger.
	tests := []struct {
		name    string
		args    []string
		matched bool
	}{
		{"stage flags match", []string{"--type", "stage_change", "--from-stage", "lead", "--to-stage", "qualified"}, true},
		{"stage flags miss", []string{"--type", "stage_change", "--from-stage", "lead", "--to-stage", "lost"}, false},
		{"data overrides stage flag", []string{"--type", "stage_change", "--to-stage", "lost", "--data", "to_stage=qualified"}, true},
		{"field flags match", []string{"--type", "field_change", "--field", "budget", "--value", "900000"}, true},
		{"field flags miss", []string{"--type", "field_change", "--field", "suburb", "--value", "Carlton"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"dispatch", "--contact", "c1", "-c", cfg}, tt.args...)
			out, err := run(t, "", args...)
			if tt.matched {
				if err == nil || !strings.Contains(err.Error(), "not found") {
					t.Errorf("err = %v, want the matched workflow to look up contact c1", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if !strings.Contains(out, "No workflows matched.") {
				t.Errorf("output = %q", out)
			}
		})
	}
}

func TestSweep_Empty(t *testing.T) {
	cfg := migrated(t, "")
	out, err := run(t, "", "sweep", "-c", cfg)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "Started 0 run(s), resumed 0 run(s)") {
		t.Errorf("output = %q", out)
	}
}

func TestIntegrationConnect_Twilio(t *testing.T) {
	cfg := migrated(t, "")
	out, err := run(t, "AC123\nsecret\n+61400000000\n",
		"integration", "connect", "twilio", "--user", "agent-1", "-c", cfg)
	if err != nil {
		t.Fatalf("connect: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Connected twilio for agent-1") {
		t.Errorf("output = %q", out)
	}
}

func TestIntegrationConnect_TwilioMissingToken(t *testing.T) {
	cfg := migrated(t, "")
	_, err := run(t, "AC123\n\n+61400000000\n",
		"integration", "connect", "twilio", "--user", "agent-1", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "auth_token") {
		t.Errorf("err = %v, want auth_token validation error", err)
	}
}

func TestIntegrationConnect_GmailNeedsOAuthConfig(t *testing.T) {
	cfg := migrated(t, "")
	_, err := run(t, "", "integration", "connect", "gmail", "--user", "agent-1",
		"--account", "agent@example.com", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "oauth.google") {
		t.Errorf("err = %v, want oauth.google error", err)
	}
}

func TestIntegrationConnect_Meta(t *testing.T) {
	cfg := migrated(t, "")
	if _, err := run(t, "page-token\n", "integration", "connect", "meta", "--user", "agent-1", "-c", cfg); err == nil {
		t.Error("expected error without --account")
	}
	out, err := run(t, "page-token\n", "integration", "connect", "meta", "--user", "agent-1", "--account", "PAGE1", "-c", cfg)
	if err != nil {
		t.Fatalf("connect meta: %v", err)
	}
	if !strings.Contains(out, "Connected meta") {
		t.Errorf("output = %q", out)
	}
}

func TestSend_UnknownContact(t *testing.T) {
	cfg := migrated(t, "")
	_, err := run(t, "", "send", "--user", "agent-1", "--contact", "missing", "--channel", "sms", "--body", "hi", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want contact not found", err)
	}
}
