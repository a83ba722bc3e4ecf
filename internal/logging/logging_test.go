package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerAppliesLevel(t *testing.T) {
	logger, err := NewLogger(Options{Level: "warn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("warn should be enabled")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOperationErrorFormatting(t *testing.T) {
	base := errors.New("boom")

	err := NewOperationError("storage.upload", "req-1", base)
	if err.Error() != "storage.upload (request_id=req-1): boom" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match")
	}

	if NewOperationError("noop", "", nil) != nil {
		t.Fatal("nil error should stay nil")
	}
	if got := NewOperationError("facedetect.detect", "", base).Error(); got != "facedetect.detect: boom" {
		t.Fatalf("unexpected message without request id: %s", got)
	}
}

func TestWithOperationDoesNotPanicOnNop(t *testing.T) {
	WithOperation(zap.NewNop(), "usecase.check", "").Info("ok")
}

func TestNewOperationErrorDoesNotNestSameOperation(t *testing.T) {
	base := errors.New("boom")
	first := NewOperationError("cache.get", "req-1", base)
	if again := NewOperationError("cache.get", "req-1", first); again != first {
		t.Fatalf("expected the same error back, got %v", again)
	}

	outer := NewOperationError("pipeline.detect_faces", "req-1", first)
	var opErr *OperationError
	if !errors.As(outer, &opErr) || opErr.Operation != "pipeline.detect_faces" {
		t.Fatalf("expected outer operation, got %v", outer)
	}
}

func TestErrorFields(t *testing.T) {
	fields := ErrorFields(NewOperationError("storage.upload", "req-2", errors.New("denied")))
	if len(fields) != 2 || fields[1].String != "storage.upload" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if fields := ErrorFields(errors.New("plain")); len(fields) != 1 {
		t.Fatalf("expected only the error field, got %d", len(fields))
	}
}
