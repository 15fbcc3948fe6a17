package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hyperbridge/internal/settings"
	"hyperbridge/internal/sink"
	"hyperbridge/internal/storage"
	"hyperbridge/pkg/logx"
)

func seedSettings(t *testing.T, path string, allowed ...string) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	svc := settings.New(st, logx.Nop(), settings.WithActor("test"))
	if err := svc.SetAllowed(context.Background(), allowed); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
}

func readRecords(t *testing.T, path string) []sink.Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out []sink.Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r sink.Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad sink line %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	return out
}

func TestStdinFeedEndToEnd(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "settings")
	sinkPath := filepath.Join(dir, "islands.jsonl")
	seedSettings(t, storePath, "com.chat")

	cfgPath := filepath.Join(dir, "hb.json")
	cfg := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "storage": {"driver": "file", "path": %q},
  "sink": {"path": %q, "rate_per_sec": 100},
  "listener": {"stdin": true},
  "ops": {"enabled": true, "addr": "127.0.0.1:0"}
}`, storePath, sinkPath)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	feed := strings.Join([]string{
		`{"op":"connected"}`,
		`{"op":"posted","event":{"key":"k1","package":"com.chat","extras":{"title":"Ana","text":"hello"}}}`,
		`{"op":"posted","event":{"key":"k2","package":"com.blocked","extras":{"title":"x","text":"y"}}}`,
		`{"op":"removed","key":"k1"}`,
	}, "\n") + "\n"

	a, err := New(cfgPath, WithStdin(strings.NewReader(feed)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.OpsAddr() == "" {
		t.Fatal("ops server not listening")
	}
	resp, err := http.Get("http://" + a.OpsAddr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after stdin EOF")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopFeedClosed); err != nil {
		t.Fatal(err)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("app error: %v", err)
	}
	if !a.Engine().Connected() {
		t.Fatal("connected message not handled")
	}

	recs := readRecords(t, sinkPath)
	if len(recs) != 2 {
		t.Fatalf("records = %+v, want post then cancel", recs)
	}
	if recs[0].Op != "post" || recs[1].Op != "cancel" || recs[0].ID != recs[1].ID {
		t.Fatalf("records = %+v", recs)
	}
	if len(recs[0].Param) == 0 || recs[0].DeliveryID == "" {
		t.Fatalf("post record incomplete: %+v", recs[0])
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hb.yaml")
	if err := os.WriteFile(cfgPath, []byte("listener:\n  stdin: false\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(cfgPath); err == nil || !strings.Contains(err.Error(), "listener") {
		t.Fatalf("err = %v", err)
	}
}
