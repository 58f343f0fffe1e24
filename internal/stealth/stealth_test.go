package stealth

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestModeOrdering(t *testing.T) {
	if !ModeAggressive.AtLeast(ModeModerate) || !ModeModerate.AtLeast(ModeMinimal) {
		t.Error("mode ordering broken")
	}
	if ModeMinimal.AtLeast(ModeModerate) {
		t.Error("minimal must not satisfy moderate")
	}
}

func TestGenerateProfileConsistency(t *testing.T) {
	for i := 0; i < 50; i++ {
		p := GenerateProfile("")
		macUA := strings.Contains(p.UserAgent, "Macintosh")
		if macUA && p.Platform != "MacIntel" {
			t.Fatalf("macOS UA with platform %q", p.Platform)
		}
		winUA := strings.Contains(p.UserAgent, "Windows NT")
		if winUA && p.Platform != "Win32" {
			t.Fatalf("Windows UA with platform %q", p.Platform)
		}
		if strings.Contains(p.WebGLRenderer, "SwiftShader") {
			t.Fatal("profile must never report a SwiftShader renderer")
		}
		if p.ViewportWidth < 800 || p.ViewportHeight < 600 {
			t.Fatalf("implausible viewport %dx%d", p.ViewportWidth, p.ViewportHeight)
		}
	}
}

func TestGenerateProfileRegionHint(t *testing.T) {
	p := GenerateProfile("de")
	if p.Locale != "de-DE" || p.Timezone != "Europe/Berlin" {
		t.Errorf("region de gave locale=%s tz=%s", p.Locale, p.Timezone)
	}

	p = GenerateProfile("unknown-region")
	if p.Timezone == "" {
		t.Error("unknown region should keep the base timezone")
	}
}

func TestInitScriptsByMode(t *testing.T) {
	profile := GenerateProfile("")

	minimal := InitScripts(Config{Mode: ModeMinimal}, profile)
	moderate := InitScripts(Config{Mode: ModeModerate}, profile)
	if len(moderate) <= len(minimal) {
		t.Errorf("moderate should add fingerprint scripts: %d vs %d", len(moderate), len(minimal))
	}

	joined := strings.Join(moderate, "\n")
	for _, marker := range []string{"webdriver", "getImageData", "getParameter", "getChannelData", "RTCPeerConnection", "notifications"} {
		if !strings.Contains(joined, marker) {
			t.Errorf("moderate scripts missing %q patch", marker)
		}
	}
	if !strings.Contains(joined, profile.WebGLRenderer) {
		t.Error("WebGL script should embed the profile renderer")
	}
}

func TestCanvasScriptSeedStable(t *testing.T) {
	if canvasScript(42) != canvasScript(42) {
		t.Error("same seed must produce the same script")
	}
	if canvasScript(42) == canvasScript(43) {
		t.Error("different seeds must produce different scripts")
	}
}

func TestCanvasScriptReadbackStable(t *testing.T) {
	script := canvasScript(7)

	// Noise must be a pure function of seed and pixel index; a PRNG
	// stream whose position depends on call order makes repeated reads
	// of the same canvas diverge within a session.
	if strings.Contains(script, "state ^=") {
		t.Error("canvas noise must not consume a stateful PRNG stream")
	}
	if !strings.Contains(script, "noiseAt(i)") {
		t.Error("canvas noise must be indexed by pixel position")
	}

	// Readback goes through a perturbed copy; writing the noise back
	// into the source canvas accumulates drift across reads.
	if !strings.Contains(script, "createElement('canvas')") {
		t.Error("readback must perturb a copy, not the live canvas")
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, err := NewSessionStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	profile := GenerateProfile("us")
	in := &Session{
		StorageState: json.RawMessage(`{"cookies":[{"name":"sid","value":"abc"}]}`),
		Profile:      profile,
	}
	if err := store.Save("run-1", in); err != nil {
		t.Fatal(err)
	}

	out, err := store.Load("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if out == nil {
		t.Fatal("saved session not found")
	}
	if out.Profile.Name != profile.Name || out.Profile.Seed != profile.Seed {
		t.Error("profile must round-trip verbatim")
	}
	if string(out.StorageState) != string(in.StorageState) {
		t.Error("storage state must round-trip")
	}
}

func TestSessionStoreMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSessionStore(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if sess, err := store.Load("never-saved"); err != nil || sess != nil {
		t.Errorf("missing session should be (nil, nil), got %v, %v", sess, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{truncated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if sess, err := store.Load("bad"); err != nil || sess != nil {
		t.Errorf("corrupt session should fall back to fresh, got %v, %v", sess, err)
	}
}

func TestSessionStorePathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSessionStore(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save("../../etc/passwd", &Session{Profile: GenerateProfile("")}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one sanitized file in store dir, got %d", len(entries))
	}
	if strings.Contains(entries[0].Name(), "..") {
		t.Errorf("unsanitized name %q", entries[0].Name())
	}
}

func TestLookupNetworkProfile(t *testing.T) {
	for _, name := range []string{"slow_3g", "fast_3g", "4g", "wifi", "dsl"} {
		p, err := LookupNetworkProfile(name)
		if err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if p.DownloadBs <= 0 || p.LatencyMS <= 0 {
			t.Errorf("%s has empty shape: %+v", name, p)
		}
	}
	if _, err := LookupNetworkProfile("5g"); err == nil {
		t.Error("unknown profile should error")
	}
}
