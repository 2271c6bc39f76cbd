package logger

import "testing"

type recordedCall struct {
	level   string
	message string
	keyvals []any
}

type recordingInstance struct {
	calls []recordedCall
}

func (r *recordingInstance) record(level, message string, keyvals []any) {
	r.calls = append(r.calls, recordedCall{level: level, message: message, keyvals: keyvals})
}

func (r *recordingInstance) Log(message string, keyvals ...any)   { r.record("log", message, keyvals) }
func (r *recordingInstance) Debug(message string, keyvals ...any) { r.record("debug", message, keyvals) }
func (r *recordingInstance) Info(message string, keyvals ...any)  { r.record("info", message, keyvals) }
func (r *recordingInstance) Warn(message string, keyvals ...any)  { r.record("warn", message, keyvals) }
func (r *recordingInstance) Error(message string, keyvals ...any) { r.record("error", message, keyvals) }
func (r *recordingInstance) Fatal(message string, keyvals ...any) { r.record("fatal", message, keyvals) }

func TestDispatchFansOutToAllInstances(t *testing.T) {
	first := &recordingInstance{}
	second := &recordingInstance{}
	Init(first, second)
	defer Init()

	Log("metrics", "tokens", 12)
	Info("started")
	Error("broken", "err", "boom")

	for _, instance := range []*recordingInstance{first, second} {
		if len(instance.calls) != 3 {
			t.Fatalf("instance received %d calls, want 3", len(instance.calls))
		}
		if instance.calls[0].level != "log" || instance.calls[0].message != "metrics" {
			t.Errorf("first call = %+v, want log/metrics", instance.calls[0])
		}
		if len(instance.calls[0].keyvals) != 2 {
			t.Errorf("keyvals = %v, want 2 values", instance.calls[0].keyvals)
		}
		if instance.calls[1].level != "info" || instance.calls[2].level != "error" {
			t.Errorf("levels = %s/%s, want info/error", instance.calls[1].level, instance.calls[2].level)
		}
	}
}

func TestCallsBeforeInitAreDropped(t *testing.T) {
	singleton = nil

	// Must not panic without a configured backend.
	Log("ignored")
	Info("ignored")
	Error("ignored")
}
