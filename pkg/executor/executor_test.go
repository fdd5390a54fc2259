package executor_test

import (
	"sync"
	"testing"

	"github.com/bobboyms/immux-go/internal/config"
	"github.com/bobboyms/immux-go/internal/logging"
	"github.com/bobboyms/immux-go/pkg/content"
	"github.com/bobboyms/immux-go/pkg/executor"
)

func openExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	cfg := config.DefaultConfig(t.TempDir())
	cfg.Logger = logging.Noop{}
	x, err := executor.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return x
}

func TestSetGetRoundTripsContent(t *testing.T) {
	x := openExecutor(t)
	defer x.Close()

	value := content.Map{
		{Key: "name", Value: content.String("ada")},
		{Key: "age", Value: content.Float64(36)},
	}

	if err := x.Set("person:1", value, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := x.Get("person:1", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected present")
	}
	gotMap, ok := got.(content.Map)
	if !ok || len(gotMap) != 2 {
		t.Fatalf("got %#v, want a 2-entry Map", got)
	}
}

func TestGetAbsentKey(t *testing.T) {
	x := openExecutor(t)
	defer x.Close()

	_, ok, err := x.Get("missing", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected absent")
	}
}

func TestTransactionLifecycleThroughExecutor(t *testing.T) {
	x := openExecutor(t)
	defer x.Close()

	if err := x.Set("a", content.String("1"), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tid, err := x.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if err := x.Set("a", content.String("2"), &tid); err != nil {
		t.Fatalf("Set (transactional): %v", err)
	}
	if err := x.CommitTransaction(tid); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}

	got, ok, err := x.Get("a", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != content.Content(content.String("2")) {
		t.Fatalf("got (%#v, %v), want (\"2\", true)", got, ok)
	}
}

func TestInspectAllReturnsInstructionView(t *testing.T) {
	x := openExecutor(t)
	defer x.Close()

	if err := x.Set("a", content.Float64(1), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := x.RemoveOne("a", nil); err != nil {
		t.Fatalf("RemoveOne: %v", err)
	}

	views, err := x.InspectAll()
	if err != nil {
		t.Fatalf("InspectAll: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d views, want 2", len(views))
	}
	if views[0].Kind != "Set" || views[0].Key != "a" {
		t.Fatalf("got %+v, want Kind=Set Key=a", views[0])
	}
	if views[1].Kind != "RemoveOne" {
		t.Fatalf("got %+v, want Kind=RemoveOne", views[1])
	}
}

func TestWorkerSerializesConcurrentSets(t *testing.T) {
	x := openExecutor(t)
	defer x.Close()

	w := executor.NewWorker(x)
	defer w.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := w.Submit(func(x *executor.Executor) (any, error) {
				return nil, x.Set("counter", content.Float64(float64(i)), nil)
			})
			if err != nil {
				t.Errorf("Submit: %v", err)
			}
		}(i)
	}
	wg.Wait()

	_, ok, err := x.Get("counter", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected counter to be set")
	}
}
