package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rombuilder/internal/runner/fake"
)

func writeROM(t *testing.T, buildProp string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rom.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("system/build.prop")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(buildProp)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestExtractCommand(t *testing.T) {
	rom := writeROM(t, "ro.product.device=alioth\nro.build.version.incremental=V14.0.3.0\nro.build.version.release=13\n")

	out, err := execute(t, "extract", rom, "Hybrid")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	var got extractOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Metadata.Codename != "alioth" || got.Metadata.AndroidVersion != "13" {
		t.Errorf("unexpected metadata: %+v", got.Metadata)
	}
	if got.Filename != "alioth-V14.0.3.0-hybrid.zip" {
		t.Errorf("unexpected filename %q", got.Filename)
	}
}

func TestExtractCommand_Errors(t *testing.T) {
	rom := writeROM(t, "ro.product.device=alioth\n")

	if _, err := execute(t, "extract", rom, "foo"); err == nil || !strings.Contains(err.Error(), "invalid variant") {
		t.Errorf("expected invalid variant error, got %v", err)
	}
	if _, err := execute(t, "extract", rom); err == nil {
		t.Error("expected an argument count error")
	}
}

func TestExtractCommand_MissingROM(t *testing.T) {
	out, err := execute(t, "extract", filepath.Join(t.TempDir(), "missing.zip"), "super")
	if err != nil {
		t.Fatalf("a missing ROM should still print placeholders, got %v", err)
	}
	if !strings.Contains(out, `"filename": "unknown-unknown-super.zip"`) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestNewRunner(t *testing.T) {
	r, closer, err := newRunner("fake")
	if err != nil {
		t.Fatalf("fake runner: %v", err)
	}
	if _, ok := r.(*fake.Runner); !ok || closer != nil {
		t.Errorf("unexpected fake runner %T, closer %v", r, closer)
	}

	if _, _, err := newRunner("jenkins"); err == nil || !strings.Contains(err.Error(), "unknown runner") {
		t.Errorf("expected unknown runner error, got %v", err)
	}

	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN_FILE", "")
	t.Setenv("GITHUB_REPO_OWNER", "")
	if _, _, err := newRunner("github"); err == nil {
		t.Error("github runner without credentials should fail")
	}
}
