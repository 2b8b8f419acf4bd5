package visits

import (
	"testing"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/common/models"
)

func strPtr(s string) *string { return &s }

func TestMergePlanPreservesUnmentionedFields(t *testing.T) {
	current := &models.Plan{
		Medications: strPtr("cetirizine 10mg"),
		Notes:       strPtr("initial notes"),
		Dermatology: map[string]interface{}{"fitzpatrick": "III"},
	}
	merged := mergePlan(current, &models.Plan{Procedures: strPtr("cryotherapy")})

	if merged.Medications == nil || *merged.Medications != "cetirizine 10mg" {
		t.Fatalf("medications lost during merge: %+v", merged)
	}
	if merged.Notes == nil || *merged.Notes != "initial notes" {
		t.Fatalf("notes lost during merge: %+v", merged)
	}
	if merged.Procedures == nil || *merged.Procedures != "cryotherapy" {
		t.Fatalf("procedures not applied: %+v", merged)
	}
	if merged.Dermatology == nil {
		t.Fatal("dermatology document lost during merge")
	}
}

func TestMergePlanEmptyStringOverwrites(t *testing.T) {
	current := &models.Plan{Medications: strPtr("old")}
	merged := mergePlan(current, &models.Plan{Medications: strPtr("")})
	if merged.Medications == nil || *merged.Medications != "" {
		t.Fatalf("explicit empty string should overwrite, got %+v", merged.Medications)
	}
}

func TestMergePlanDoesNotMutateCurrent(t *testing.T) {
	current := &models.Plan{Notes: strPtr("keep")}
	_ = mergePlan(current, &models.Plan{Notes: strPtr("patched")})
	if *current.Notes != "keep" {
		t.Fatal("mergePlan mutated its input")
	}
}

func TestPlanOnCreateWithNothingIsNil(t *testing.T) {
	if plan := planOnCreate(nil, nil); plan != nil {
		t.Fatalf("expected nil plan, got %+v", plan)
	}
}

func TestPlanOnCreateNotesWinOverPatchNotes(t *testing.T) {
	plan := planOnCreate(&models.Plan{Notes: strPtr("from plan")}, strPtr("from arg"))
	if plan.Notes == nil || *plan.Notes != "from arg" {
		t.Fatalf("top-level notes should win, got %+v", plan.Notes)
	}
}

func TestPlanOnUpdateNoInputIsNoop(t *testing.T) {
	current := &models.Plan{Notes: strPtr("unchanged")}
	merged, changed := planOnUpdate(current, nil, nil)
	if changed {
		t.Fatal("expected no change")
	}
	if merged != current {
		t.Fatal("expected the current plan back")
	}
}

func TestPlanOnRemoveStampsDeletion(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	plan := planOnRemove(&models.Plan{Notes: strPtr("kept")}, now)

	if plan.Deleted == nil || !*plan.Deleted {
		t.Fatal("expected deleted flag set")
	}
	if plan.DeletedAt == nil || *plan.DeletedAt != "2026-03-14T10:30:00Z" {
		t.Fatalf("unexpected deletedAt: %v", plan.DeletedAt)
	}
	if plan.Notes == nil || *plan.Notes != "kept" {
		t.Fatal("soft delete must not clear other plan fields")
	}
}

func TestDerivedNotesPrefersNotesOverFinalNotes(t *testing.T) {
	plan := &models.Plan{Notes: strPtr("working"), FinalNotes: strPtr("final")}
	if got := derivedNotes(plan); got == nil || *got != "working" {
		t.Fatalf("expected working notes, got %v", got)
	}

	plan = &models.Plan{FinalNotes: strPtr("final")}
	if got := derivedNotes(plan); got == nil || *got != "final" {
		t.Fatalf("expected final notes fallback, got %v", got)
	}

	if got := derivedNotes(nil); got != nil {
		t.Fatalf("expected nil for missing plan, got %v", got)
	}
}

func TestCompletionNotesInvertsPrecedence(t *testing.T) {
	plan := &models.Plan{Notes: strPtr("working"), FinalNotes: strPtr("stored final")}

	if got := completionNotes(strPtr("just written"), plan); *got != "just written" {
		t.Fatalf("argument should win, got %q", *got)
	}
	if got := completionNotes(nil, plan); *got != "stored final" {
		t.Fatalf("stored finalNotes should beat notes on completion, got %q", *got)
	}
	if got := completionNotes(nil, &models.Plan{Notes: strPtr("working")}); *got != "working" {
		t.Fatalf("notes is the last fallback, got %q", *got)
	}
	if got := completionNotes(nil, nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
