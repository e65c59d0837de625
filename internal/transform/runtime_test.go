package transform

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, data)
	}
	return doc
}

var testOverrides = Overrides{LogLevel: "warn", ClashAPI: "127.0.0.1:9090", WebDir: "/home/deck/sbox/web"}

func TestApplyInjectsManagedSections(t *testing.T) {
	in := `{
	  "log": {"level": "debug", "output": "box.log"},
	  "experimental": {"cache_file": {"enabled": true}},
	  "inbounds": [{"type": "mixed", "listen_port": 2080}],
	  "outbounds": [{"type": "direct"}]
	}`

	out, err := Apply([]byte(in), testOverrides)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	doc := decode(t, out)

	log := doc["log"].(map[string]any)
	if log["level"] != "warn" || log["timestamp"] != true || log["output"] != nil {
		t.Errorf("log = %v", log)
	}

	exp := doc["experimental"].(map[string]any)
	if _, ok := exp["cache_file"]; !ok {
		t.Error("other experimental keys must be kept")
	}
	api := exp["clash_api"].(map[string]any)
	if api["external_controller"] != "127.0.0.1:9090" || api["external_ui"] != "/home/deck/sbox/web" || api["default_mode"] != "rule" {
		t.Errorf("clash_api = %v", api)
	}

	inbounds := doc["inbounds"].([]any)
	if len(inbounds) != 2 {
		t.Fatalf("inbounds = %v, want mixed + tun", inbounds)
	}
	tun := inbounds[1].(map[string]any)
	if tun["type"] != "tun" || tun["interface_name"] != "tun0" || tun["mtu"] != float64(9000) {
		t.Errorf("tun = %v", tun)
	}
	if len(doc["outbounds"].([]any)) != 1 {
		t.Error("outbounds must pass through")
	}
}

func TestApplyReplacesFirstTun(t *testing.T) {
	in := `{"inbounds":[{"type":"tun","interface_name":"utun9"},{"type":"tun","tag":"second"}],"outbounds":[{"type":"direct"}]}`

	out, err := Apply([]byte(in), testOverrides)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	inbounds := decode(t, out)["inbounds"].([]any)
	if len(inbounds) != 2 {
		t.Fatalf("inbounds len = %d, want 2", len(inbounds))
	}
	first := inbounds[0].(map[string]any)
	if first["interface_name"] != "tun0" {
		t.Errorf("first tun not replaced: %v", first)
	}
	second := inbounds[1].(map[string]any)
	if second["tag"] != "second" {
		t.Errorf("second tun should be untouched: %v", second)
	}
}

func TestApplyCustomTun(t *testing.T) {
	ov := testOverrides
	ov.Tun = map[string]any{"type": "tun", "interface_name": "sbox0"}

	out, err := Apply([]byte(`{"outbounds":[{"type":"direct"}]}`), ov)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	inbounds := decode(t, out)["inbounds"].([]any)
	if len(inbounds) != 1 || inbounds[0].(map[string]any)["interface_name"] != "sbox0" {
		t.Errorf("inbounds = %v", inbounds)
	}
}

func TestApplyAcceptsJSON5(t *testing.T) {
	in := "{\n  // comment\n  outbounds: [{type: 'direct'},],\n}"
	if _, err := Apply([]byte(in), testOverrides); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestApplyRejectsGarbage(t *testing.T) {
	if _, err := Apply([]byte("nope"), testOverrides); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWriteRunning(t *testing.T) {
	home := t.TempDir()
	rel, err := WriteRunning(home, []byte(`{"outbounds":[{"type":"direct"}]}`), testOverrides)
	if err != nil {
		t.Fatalf("WriteRunning: %v", err)
	}
	if rel != RunningConfigName {
		t.Errorf("rel = %q", rel)
	}
	data, err := os.ReadFile(filepath.Join(home, RunningConfigName))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	decode(t, data)
}
