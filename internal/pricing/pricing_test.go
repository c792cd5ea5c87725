package pricing

import "testing"

func TestExtractUsage_FieldNameVariants(t *testing.T) {
	u, ok := ExtractUsage(map[string]any{
		"input_tokens":  float64(120),
		"output_tokens": float64(45),
	})
	if !ok {
		t.Fatalf("expected usage extracted")
	}
	if *u.InputTokens != 120 || *u.OutputTokens != 45 {
		t.Fatalf("unexpected usage: %+v", u)
	}
}

func TestExtractUsage_Empty(t *testing.T) {
	if _, ok := ExtractUsage(map[string]any{"unrelated": "x"}); ok {
		t.Fatalf("expected no usage extracted")
	}
}

func TestMergeUsage_InputTokensSticky(t *testing.T) {
	prev := TokenUsage{}
	one := int64(30)
	prev = MergeUsage(prev, TokenUsage{InputTokens: &one})

	out := int64(10)
	prev = MergeUsage(prev, TokenUsage{OutputTokens: &out})
	if prev.InputTokens == nil || *prev.InputTokens != 30 {
		t.Fatalf("expected input tokens to remain sticky, got %+v", prev)
	}
	if prev.OutputTokens == nil || *prev.OutputTokens != 10 {
		t.Fatalf("expected output tokens updated, got %+v", prev)
	}

	moreOut := int64(25)
	prev = MergeUsage(prev, TokenUsage{OutputTokens: &moreOut})
	if *prev.OutputTokens != 25 {
		t.Fatalf("expected output tokens overridden, got %+v", prev)
	}
	if *prev.InputTokens != 30 {
		t.Fatalf("expected input tokens still sticky, got %+v", prev)
	}
}

func TestCost_UnknownModelIsZeroAndUnknown(t *testing.T) {
	tbl := DefaultTable()
	in := int64(1_000_000)
	cost, known := tbl.Cost("some-unlisted-model", TokenUsage{InputTokens: &in})
	if known {
		t.Fatalf("expected unknown model")
	}
	if cost != 0 {
		t.Fatalf("expected zero cost for unknown model, got %v", cost)
	}
}

func TestCost_KnownModel(t *testing.T) {
	tbl := DefaultTable()
	in := int64(1_000_000)
	out := int64(1_000_000)
	cost, known := tbl.Cost("claude-sonnet-4-5", TokenUsage{InputTokens: &in, OutputTokens: &out})
	if !known {
		t.Fatalf("expected known model")
	}
	if cost != 18 {
		t.Fatalf("expected cost=18, got %v", cost)
	}
}

func TestNormalizeModel_StripsDateSuffix(t *testing.T) {
	tbl := DefaultTable()
	in := int64(1_000_000)
	cost, known := tbl.Cost("claude-sonnet-4-5-20260115", TokenUsage{InputTokens: &in})
	if !known {
		t.Fatalf("expected dated model id to resolve to family rate")
	}
	if cost != 3 {
		t.Fatalf("expected cost=3, got %v", cost)
	}
}
