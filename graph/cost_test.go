package graph

import (
	"math"
	"strings"
	"sync"
	"testing"
)

func TestCostTracker_Record(t *testing.T) {
	ct := NewCostTracker("run-1", "USD")

	if err := ct.RecordLLMCall("gpt-4o", 1_000_000, 100_000, "judge"); err != nil {
		t.Fatal(err)
	}
	if err := ct.RecordLLMCall("unknown-model", 500, 500, "entry"); err != nil {
		t.Fatal(err)
	}

	want := 2.50 + 1.00
	if got := ct.GetTotalCost(); math.Abs(got-want) > 1e-9 {
		t.Errorf("total = %v, want %v", got, want)
	}
	if got := ct.GetCostByNode()["entry"]; got != 0 {
		t.Errorf("unpriced model cost = %v", got)
	}
	in, out := ct.GetTokenUsage()
	if in != 1_000_500 || out != 100_500 {
		t.Errorf("tokens = %d/%d", in, out)
	}
	if len(ct.GetCallHistory()) != 2 {
		t.Errorf("history = %d calls", len(ct.GetCallHistory()))
	}
	if !strings.Contains(ct.String(), "Calls: 2") {
		t.Errorf("String() = %s", ct)
	}

	if err := ct.RecordLLMCall("gpt-4o", -1, 0, "x"); err == nil {
		t.Error("negative token count accepted")
	}
}

func TestCostTracker_CustomPricingIsPerTracker(t *testing.T) {
	a := NewCostTracker("a", "USD")
	b := NewCostTracker("b", "USD")
	a.SetCustomPricing("gpt-4o", 100, 0)

	_ = a.RecordLLMCall("gpt-4o", 1_000_000, 0, "n")
	_ = b.RecordLLMCall("gpt-4o", 1_000_000, 0, "n")
	if a.GetTotalCost() != 100 || b.GetTotalCost() != 2.50 {
		t.Errorf("a=%v b=%v", a.GetTotalCost(), b.GetTotalCost())
	}
}

func TestCostTracker_DisableAndConcurrency(t *testing.T) {
	ct := NewCostTracker("run", "USD")
	ct.Disable()
	_ = ct.RecordLLMCall("gpt-4o", 10, 10, "n")
	if len(ct.GetCallHistory()) != 0 {
		t.Error("disabled tracker recorded a call")
	}
	ct.Enable()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ct.RecordLLMCall("gpt-4o-mini", 10, 5, "branch")
		}()
	}
	wg.Wait()
	if in, out := ct.GetTokenUsage(); in != 200 || out != 100 {
		t.Errorf("tokens = %d/%d", in, out)
	}
}
