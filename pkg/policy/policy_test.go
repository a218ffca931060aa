package policy

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/assentworks/assent/pkg/contracts"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := NewGuard()
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return g
}

func writeRequest(command string, params map[string]any) Request {
	return Request{
		Command:  command,
		Intent:   "create_task",
		Scope:    contracts.ScopeAPIExecuteRaw,
		Params:   params,
		Metadata: map[string]string{"session_id": "sess-1"},
	}
}

func TestGuard_NoRulesAdmitsEverything(t *testing.T) {
	g := newTestGuard(t)

	if err := g.Admit(writeRequest("notion.create_task", map[string]any{"name": "x"})); err != nil {
		t.Errorf("unconfigured guard should admit: %v", err)
	}
	if err := g.Admit(writeRequest("anything.else", nil)); err != nil {
		t.Errorf("unconfigured guard should admit: %v", err)
	}
}

func TestGuard_Allowlist(t *testing.T) {
	g := newTestGuard(t)
	if err := g.Allow(Rule{Command: "notion.create_task"}); err != nil {
		t.Fatal(err)
	}

	if err := g.Admit(writeRequest("notion.create_task", nil)); err != nil {
		t.Errorf("listed command should pass: %v", err)
	}

	err := g.Admit(writeRequest("notion.delete_page", nil))
	if err == nil {
		t.Fatal("unlisted command must be refused")
	}
	if !strings.Contains(err.Error(), "not in allowlist") {
		t.Errorf("unexpected message: %v", err)
	}
	if !contracts.IsCode(err, contracts.CodeValidation) {
		t.Errorf("refusal must be a validation error, got %v", contracts.CodeOf(err))
	}
}

func TestGuard_ParamsSchema(t *testing.T) {
	g := newTestGuard(t)
	schema := `{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1}
		},
		"required": ["name"]
	}`
	if err := g.Allow(Rule{Command: "notion.create_task", ParamsSchema: schema}); err != nil {
		t.Fatalf("allow with schema failed: %v", err)
	}

	if err := g.Admit(writeRequest("notion.create_task", map[string]any{"name": "Test Task"})); err != nil {
		t.Errorf("valid params should pass: %v", err)
	}

	if err := g.Admit(writeRequest("notion.create_task", map[string]any{"other": true})); err == nil {
		t.Error("missing required field must be refused")
	}

	err := g.Admit(writeRequest("notion.create_task", nil))
	if err == nil {
		t.Fatal("nil params with a schema must be refused")
	}
	if !strings.Contains(err.Error(), "missing params") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestGuard_SchemaCompileErrorSurfacesAtAllow(t *testing.T) {
	g := newTestGuard(t)
	if err := g.Allow(Rule{Command: "bad", ParamsSchema: `{not valid json`}); err == nil {
		t.Error("invalid schema JSON must fail at Allow")
	}
}

func TestGuard_CELGuard(t *testing.T) {
	g := newTestGuard(t)
	rule := Rule{
		Command: "notion.create_task",
		Guard:   `input.params.priority in ["Low", "Medium", "High"]`,
	}
	if err := g.Allow(rule); err != nil {
		t.Fatal(err)
	}

	if err := g.Admit(writeRequest("notion.create_task", map[string]any{"priority": "High"})); err != nil {
		t.Errorf("guard should pass: %v", err)
	}

	err := g.Admit(writeRequest("notion.create_task", map[string]any{"priority": "Urgent"}))
	if err == nil {
		t.Fatal("guard must refuse out-of-range priority")
	}
	if !strings.Contains(err.Error(), "guard refused") {
		t.Errorf("unexpected message: %v", err)
	}

	// A missing key is an eval error, which also refuses.
	if err := g.Admit(writeRequest("notion.create_task", map[string]any{"name": "x"})); err == nil {
		t.Error("guard eval error must refuse the request")
	}
}

func TestGuard_GuardOverMetadata(t *testing.T) {
	g := newTestGuard(t)
	if err := g.Allow(Rule{Command: "notion.create_task", Guard: `input.metadata.session_id != ""`}); err != nil {
		t.Fatal(err)
	}

	if err := g.Admit(writeRequest("notion.create_task", nil)); err != nil {
		t.Errorf("session-scoped request should pass: %v", err)
	}

	req := writeRequest("notion.create_task", nil)
	req.Metadata = map[string]string{"session_id": ""}
	if err := g.Admit(req); err == nil {
		t.Error("empty session must be refused")
	}
}

func TestGuard_GuardCompileErrorRefuses(t *testing.T) {
	g := newTestGuard(t)
	if err := g.Allow(Rule{Command: "notion.create_task", Guard: `input.params.`}); err != nil {
		t.Fatal(err)
	}

	err := g.Admit(writeRequest("notion.create_task", map[string]any{"name": "x"}))
	if err == nil {
		t.Fatal("uncompilable guard must refuse, not admit")
	}
	if !strings.Contains(err.Error(), "guard") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestGuard_LoadProfile(t *testing.T) {
	profileYAML := `name: notion-write-policy
rules:
  - command: notion.create_task
    params_schema: |
      {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1}
        },
        "required": ["name"]
      }
    guard: input.metadata.session_id != ""
  - command: notion.update_page
`
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(profileYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.Name != "notion-write-policy" || len(profile.Rules) != 2 {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	g := newTestGuard(t)
	if err := g.Load(profile); err != nil {
		t.Fatalf("install profile: %v", err)
	}

	if err := g.Admit(writeRequest("notion.create_task", map[string]any{"name": "Test Task"})); err != nil {
		t.Errorf("profiled command should pass: %v", err)
	}
	if err := g.Admit(writeRequest("notion.update_page", nil)); err != nil {
		t.Errorf("schema-less rule should pass: %v", err)
	}
	if err := g.Admit(writeRequest("notion.create_task", map[string]any{"name": ""})); err == nil {
		t.Error("minLength violation must be refused")
	}
	if err := g.Admit(writeRequest("notion.archive_page", nil)); err == nil {
		t.Error("unlisted command must be refused")
	}
}

func TestLoadProfile_Missing(t *testing.T) {
	if _, err := LoadProfile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing profile file must error")
	}
}

func TestGuard_ConcurrentAdmit(t *testing.T) {
	g := newTestGuard(t)
	if err := g.Allow(Rule{Command: "notion.create_task", Guard: `input.params.i >= 0`}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := g.Admit(writeRequest("notion.create_task", map[string]any{"i": i})); err != nil {
				t.Errorf("admit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
}
