package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

type sample struct {
	A int
	B int
}

func TestChain_EvaluatesEveryRuleWithoutShortCircuit(t *testing.T) {
	var calls []string
	chain := NewChain[sample]().
		OnUpdate("first", func(current *sample, proposed sample) bool {
			calls = append(calls, "first")
			return false
		}).
		OnUpdate("second", func(current *sample, proposed sample) bool {
			calls = append(calls, "second")
			current.B = proposed.B
			return true
		}).
		OnUpdate("third", func(current *sample, proposed sample) bool {
			calls = append(calls, "third")
			return false
		})

	current := sample{A: 1, B: 1}
	got, err := chain.EvaluateUpdate(current, sample{A: 2, B: 2})
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if strings.Join(calls, ",") != "first,second,third" {
		t.Fatalf("unexpected call order: %v", calls)
	}
	if !strings.Contains(err.Error(), "first, third") {
		t.Fatalf("error should name failed rules, got %q", err.Error())
	}
	if got != current {
		t.Fatalf("working copy must be discarded on rejection, got %+v", got)
	}
}

func TestChain_EachRuleSeesOriginalProposed(t *testing.T) {
	chain := NewChain[sample]().
		OnUpdate("mutates-current", func(current *sample, proposed sample) bool {
			current.A = 100
			return true
		}).
		OnUpdate("reads-proposed", func(current *sample, proposed sample) bool {
			return proposed.A == 5
		})

	got, err := chain.EvaluateUpdate(sample{}, sample{A: 5})
	if err != nil {
		t.Fatalf("EvaluateUpdate failed: %v", err)
	}
	if got.A != 100 {
		t.Fatalf("expected working copy to carry rule changes, got %+v", got)
	}
}

func TestChain_EmptyChainAllows(t *testing.T) {
	chain := NewChain[sample]()
	if _, err := chain.EvaluateUpdate(sample{A: 1}, sample{A: 2}); err != nil {
		t.Fatalf("empty update chain should allow: %v", err)
	}
	if err := chain.EvaluateDelete(sample{}); err != nil {
		t.Fatalf("empty delete chain should allow: %v", err)
	}
}

func TestChain_UpdateRulesOrder(t *testing.T) {
	names := Cargo().UpdateRules()
	if strings.Join(names, ",") != "name,weight,status" {
		t.Fatalf("unexpected cargo rule order: %v", names)
	}
}
