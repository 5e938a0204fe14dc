package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/medroute/internal/refdata/pgsource.(*Source).Load", "(*Source).Load"},
		{"already short", "(*Source).Load", "Load"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgsource.(*Source).Load", "(*Source).Load"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag, sql, want string
	}{
		{"SELECT 12", "select name from clinics", "SELECT"},
		{"", "  select name from clinics", "SELECT"},
		{"INSERT 0 1", "", "INSERT"},
		{"", "", "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := operationName(tt.tag, tt.sql); got != tt.want {
			t.Errorf("operationName(%q, %q) = %q, want %q", tt.tag, tt.sql, got, tt.want)
		}
	}
}

// recordingTracer captures calls made through loggingTracer.
type recordingTracer struct {
	started, ended int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.started++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(context.Context, *pgx.Conn, pgx.TraceQueryEndData) {
	r.ended++
}

// Not parallel: swaps the global query observer.
func TestLoggingTracer_ObservesAndDelegates(t *testing.T) {
	defer SetQueryObserver(nil)

	type obs struct{ op, outcome string }
	var got []obs
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, outcome string, _ time.Duration) {
		got = append(got, obs{op, outcome})
	}))

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner)

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	if caller, _ := ctx.Value(ctxKeyCaller).(string); caller == "" {
		t.Error("expected the test function as db caller")
	}
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	ctx = tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "select broken"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	if inner.started != 2 || inner.ended != 2 {
		t.Errorf("inner tracer calls = %d/%d, want 2/2", inner.started, inner.ended)
	}
	want := []obs{{"SELECT", "ok"}, {"SELECT", "error"}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("observations = %v, want %v", got, want)
	}
}

// Not parallel: swaps the global query observer.
func TestSetQueryObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	called := false
	SetQueryObserver(QueryObserverFunc(func(context.Context, string, string, time.Duration) {
		called = true
	}))
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "SELECT", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if got := getQueryObserver(); got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}

func TestNewPool_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "postgres://%zz"); err == nil {
		t.Error("expected a parse error")
	}
}
