package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithOrderID(ctx, "ord-123")
	ctx = log.WithConsumer(ctx, "portfolio-worker")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"order_id\":\"ord-123\"")) {
		t.Fatalf("expected order_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"consumer\":\"portfolio-worker\"")) {
		t.Fatalf("expected consumer to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWithFieldsDoesNotMutateParent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	parent := context.Background()
	_ = log.WithFields(parent, map[string]any{"account_id": "acct-1"})

	log.Info(parent, "plain")
	if bytes.Contains(buf.Bytes(), []byte("acct-1")) {
		t.Fatalf("parent context should not carry child fields; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})

	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled; entry=%s", buf.String())
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})
	quiet.Warn(context.Background(), "warny")
	if bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("did not expect stack on plain warn; entry=%s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel("Debug"); lvl != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %v", lvl)
	}
}
