package visits

import (
	"time"

	"github.com/arogya-health/clinic-platform/pkg/common/models"
)

// The treatment-plan document is merge-patched, never replaced: each writer
// supplies only the fields it owns and every other field survives. A nil
// pointer in a patch means "not supplied", so explicit empty strings still
// overwrite.

func mergePlan(current *models.Plan, patch *models.Plan) *models.Plan {
	if patch == nil {
		return current
	}
	merged := models.Plan{}
	if current != nil {
		merged = *current
	}
	if patch.Medications != nil {
		merged.Medications = patch.Medications
	}
	if patch.Procedures != nil {
		merged.Procedures = patch.Procedures
	}
	if patch.LifestyleModifications != nil {
		merged.LifestyleModifications = patch.LifestyleModifications
	}
	if patch.Notes != nil {
		merged.Notes = patch.Notes
	}
	if patch.FinalNotes != nil {
		merged.FinalNotes = patch.FinalNotes
	}
	if patch.FollowUpInstructions != nil {
		merged.FollowUpInstructions = patch.FollowUpInstructions
	}
	if patch.Deleted != nil {
		merged.Deleted = patch.Deleted
	}
	if patch.DeletedAt != nil {
		merged.DeletedAt = patch.DeletedAt
	}
	if patch.Dermatology != nil {
		merged.Dermatology = patch.Dermatology
	}
	return &merged
}

// planOnCreate builds the initial plan document. With neither a treatment
// plan nor notes the visit starts with no plan at all.
func planOnCreate(treatmentPlan *models.Plan, notes *string) *models.Plan {
	if treatmentPlan == nil && notes == nil {
		return nil
	}
	plan := mergePlan(nil, treatmentPlan)
	if notes != nil {
		plan = mergePlan(plan, &models.Plan{Notes: notes})
	}
	return plan
}

// planOnUpdate is a no-op unless the caller supplied a treatment-plan patch
// or notes.
func planOnUpdate(current *models.Plan, patch *models.Plan, notes *string) (*models.Plan, bool) {
	if patch == nil && notes == nil {
		return current, false
	}
	merged := mergePlan(current, patch)
	if notes != nil {
		merged = mergePlan(merged, &models.Plan{Notes: notes})
	}
	return merged, true
}

func planOnComplete(current *models.Plan, finalNotes, followUpInstructions *string) *models.Plan {
	return mergePlan(current, &models.Plan{
		FinalNotes:           finalNotes,
		FollowUpInstructions: followUpInstructions,
	})
}

func planOnRemove(current *models.Plan, now time.Time) *models.Plan {
	deleted := true
	deletedAt := now.UTC().Format(time.RFC3339)
	return mergePlan(current, &models.Plan{
		Deleted:   &deleted,
		DeletedAt: &deletedAt,
	})
}

// derivedNotes is the read-side notes for findAll/findOne: plan.notes wins
// over plan.finalNotes.
func derivedNotes(plan *models.Plan) *string {
	if plan == nil {
		return nil
	}
	if plan.Notes != nil {
		return plan.Notes
	}
	if plan.FinalNotes != nil {
		return plan.FinalNotes
	}
	return nil
}

// completionNotes is the notes value returned from complete: the
// just-supplied finalNotes argument takes precedence, then the stored
// finalNotes, then the stored notes. The inversion relative to
// derivedNotes is long-standing documented behavior; callers depend on the
// completion response echoing what they just wrote.
func completionNotes(finalNotes *string, plan *models.Plan) *string {
	if finalNotes != nil {
		return finalNotes
	}
	if plan == nil {
		return nil
	}
	if plan.FinalNotes != nil {
		return plan.FinalNotes
	}
	return plan.Notes
}
