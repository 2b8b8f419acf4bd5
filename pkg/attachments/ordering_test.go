package attachments

import (
	"testing"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/common/models"
)

func intPtr(i int) *int              { return &i }
func timePtr(t time.Time) *time.Time { return &t }

func TestPositionRank(t *testing.T) {
	cases := []struct {
		position models.Position
		want     int
	}{
		{models.PositionFront, 1},
		{models.PositionLeftProfile, 2},
		{models.PositionRightProfile, 3},
		{models.PositionBack, 4},
		{models.PositionCloseUp, 5},
		{models.PositionOther, 99},
		{models.Position("WEIRD"), 99},
	}
	for _, tc := range cases {
		if got := PositionRank(tc.position); got != tc.want {
			t.Fatalf("rank(%s) = %d, want %d", tc.position, got, tc.want)
		}
	}
}

func TestOrderByPositionWhenNoDisplayOrder(t *testing.T) {
	items := []models.AttachmentView{
		{URL: "back", Position: models.PositionBack},
		{URL: "front", Position: models.PositionFront},
		{URL: "other", Position: models.PositionOther},
		{URL: "left", Position: models.PositionLeftProfile},
	}
	got := Order(items)
	want := []string{"front", "left", "back", "other"}
	for i, url := range want {
		if got[i].URL != url {
			t.Fatalf("position %d: got %s, want %s (full: %+v)", i, got[i].URL, url, got)
		}
	}
}

func TestOrderDisplayOrderBeatsPositionRank(t *testing.T) {
	items := []models.AttachmentView{
		{URL: "front", Position: models.PositionFront},
		{URL: "pinned-back", Position: models.PositionBack, DisplayOrder: intPtr(0)},
	}
	got := Order(items)
	if got[0].URL != "pinned-back" {
		t.Fatalf("explicit display order should win, got %+v", got)
	}
}

func TestOrderTieBreaksOnUploadTime(t *testing.T) {
	earlier := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	later := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	items := []models.AttachmentView{
		{URL: "later", Position: models.PositionFront, UploadedAt: timePtr(later)},
		{URL: "earlier", Position: models.PositionFront, UploadedAt: timePtr(earlier)},
		{URL: "legacy", Position: models.PositionFront},
	}
	got := Order(items)
	// Legacy items have no timestamp and rank as epoch, so they lead the
	// tie group.
	want := []string{"legacy", "earlier", "later"}
	for i, url := range want {
		if got[i].URL != url {
			t.Fatalf("position %d: got %s, want %s", i, got[i].URL, url)
		}
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	items := []models.AttachmentView{
		{URL: "b", Position: models.PositionBack},
		{URL: "a", Position: models.PositionFront},
	}
	_ = Order(items)
	if items[0].URL != "b" {
		t.Fatal("Order mutated its input slice")
	}
}
