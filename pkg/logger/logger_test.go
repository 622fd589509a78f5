package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestInitWritesJSONToFile(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init("info", "json", path); err != nil {
		t.Fatal(err)
	}
	Debug("hidden")
	Info("classified", zap.Int("rows", 3))
	Sync()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid json line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1 (debug filtered)", len(lines))
	}
	if lines[0]["message"] != "classified" || lines[0]["rows"] != float64(3) || lines[0]["level"] != "info" {
		t.Errorf("entry = %v", lines[0])
	}
}

func TestInitRejectsBadInput(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	if err := Init("loud", "json", "stdout"); err == nil {
		t.Error("expected invalid level error")
	}
	if err := Init("info", "xml", "stdout"); err == nil {
		t.Error("expected invalid format error")
	}
}
