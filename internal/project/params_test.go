package project

import "testing"

func strPtr(s string) *string { return &s }

func releaseProject() *Project {
	notify := slack("notify")
	notify.Parameters = []BlockParameter{
		{Name: "version", Source: ParameterSource{Kind: SourceProjectParameter, Parameter: "version"}},
		{Name: "note", Source: ParameterSource{Kind: SourceManual}},
		{Name: "token", Type: ParamSecret, Source: ParameterSource{Kind: SourceManual}, Optional: true},
	}
	return &Project{
		ID:   "lib",
		Name: "Lib",
		Parameters: []ProjectParameter{
			{Name: "version", Type: ParamString, Rules: []ValidationRule{{Type: RuleRegex, Value: `^\d+\.\d+\.\d+$`, Message: "version must be semver"}}},
			{Name: "channel", Type: ParamString, Default: strPtr("#releases")},
			{Name: "docs", Type: ParamURL, Optional: true},
		},
		Graph: BlockGraph{Blocks: []Block{notify}},
	}
}

func TestValidateParameters(t *testing.T) {
	p := releaseProject()

	cases := []struct {
		name     string
		values   map[string]string
		wantCode string
	}{
		{name: "valid", values: map[string]string{"version": "1.2.3", "notify.note": "hi"}},
		{name: "missing required", values: map[string]string{"notify.note": "hi"}, wantCode: CodeRequired},
		{name: "rule failure", values: map[string]string{"version": "one", "notify.note": "hi"}, wantCode: CodeInvalidValue},
		{name: "bad url", values: map[string]string{"version": "1.0.0", "notify.note": "x", "docs": "not a url"}, wantCode: CodeInvalidValue},
		{name: "missing manual", values: map[string]string{"version": "1.0.0"}, wantCode: CodeRequired},
		{name: "unknown key", values: map[string]string{"version": "1.0.0", "notify.note": "x", "extra": "1"}, wantCode: CodeUnknownParameter},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateParameters(p, tc.values)
			if tc.wantCode == "" {
				if !res.Valid {
					t.Fatalf("expected valid, got %v", res.Errors)
				}
				return
			}
			if !res.HasCode(tc.wantCode) {
				t.Fatalf("expected %s, got %v", tc.wantCode, res.Errors)
			}
		})
	}
}

func TestRuleMessageOverridesDefault(t *testing.T) {
	res := ValidateParameters(releaseProject(), map[string]string{"version": "x", "notify.note": "n"})
	if len(res.Errors) != 1 || res.Errors[0].Message != "version must be semver" {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
}

func TestResolveBlockParameters(t *testing.T) {
	b := build("publish")
	b.Parameters = []BlockParameter{
		{Name: "version", Source: ParameterSource{Kind: SourceProjectParameter, Parameter: "version"}},
		{Name: "build", Source: ParameterSource{Kind: SourceBlockOutput, Block: "compile", Output: "build_number"}},
		{Name: "mode", Source: ParameterSource{Kind: SourceDefault, Value: "fast"}},
		{Name: "note", Source: ParameterSource{Kind: SourceManual}},
	}
	outputs := func(id string) (map[string]string, bool) {
		if id == "compile" {
			return map[string]string{"build_number": "42"}, true
		}
		return nil, false
	}

	got, err := ResolveBlockParameters(b, map[string]string{"version": "2.0.0"}, map[string]string{"note": "hello"}, outputs)
	if err != nil {
		t.Fatalf("ResolveBlockParameters: %v", err)
	}
	want := map[string]string{"version": "2.0.0", "build": "42", "mode": "fast", "note": "hello"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q", k, got[k], v)
		}
	}

	_, err = ResolveBlockParameters(b, map[string]string{"version": "2.0.0"}, map[string]string{"note": "x"},
		func(string) (map[string]string, bool) { return nil, false })
	if err == nil {
		t.Fatal("expected error for missing upstream output")
	}
}

func TestRender(t *testing.T) {
	got := Render("Releasing {{ version }} of {{name}} ({{unknown}})",
		map[string]string{"version": "1.0.0"},
		map[string]string{"version": "ignored", "name": "lib"},
	)
	if got != "Releasing 1.0.0 of lib ({{unknown}})" {
		t.Fatalf("Render = %q", got)
	}
}

func TestMaskSecrets(t *testing.T) {
	p := releaseProject()
	masked := Mask(map[string]string{"version": "1.0.0", "notify.token": "s3cr3t"}, SecretNames(p))
	if masked["notify.token"] != SecretMask || masked["version"] != "1.0.0" {
		t.Fatalf("unexpected masking: %v", masked)
	}
}
