package logger

import "testing"

type recordingBackend struct {
	calls  []string
	kvs    [][]any
	synced int
}

func (r *recordingBackend) record(level, msg string, kv []any) {
	r.calls = append(r.calls, level+":"+msg)
	r.kvs = append(r.kvs, kv)
}

func (r *recordingBackend) Log(m string, kv ...any)   { r.record("log", m, kv) }
func (r *recordingBackend) Debug(m string, kv ...any) { r.record("debug", m, kv) }
func (r *recordingBackend) Info(m string, kv ...any)  { r.record("info", m, kv) }
func (r *recordingBackend) Warn(m string, kv ...any)  { r.record("warn", m, kv) }
func (r *recordingBackend) Error(m string, kv ...any) { r.record("error", m, kv) }
func (r *recordingBackend) Fatal(m string, kv ...any) { r.record("fatal", m, kv) }
func (r *recordingBackend) Sync() error {
	r.synced++
	return nil
}

func TestDispatchToAllBackends(t *testing.T) {
	a := &recordingBackend{}
	b := &recordingBackend{}
	Init(a, b)
	defer Init()

	Info("hello", "id", "1")
	Log("plain", "k", "v")
	Sync()

	for _, r := range []*recordingBackend{a, b} {
		if len(r.calls) != 2 {
			t.Fatalf("expected 2 calls, got %d", len(r.calls))
		}
		if r.calls[0] != "info:hello" {
			t.Fatalf("expected info:hello, got %s", r.calls[0])
		}
		if len(r.kvs[1]) != 2 || r.kvs[1][0] != "k" {
			t.Fatalf("expected keyvals to reach Log, got %v", r.kvs[1])
		}
		if r.synced != 1 {
			t.Fatalf("expected 1 sync, got %d", r.synced)
		}
	}
}

func TestUninitializedLoggerIsNoop(t *testing.T) {
	singleton = nil
	Info("nobody listens")
	Sync()
}
