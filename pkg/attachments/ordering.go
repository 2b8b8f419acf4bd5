package attachments

import (
	"sort"
	"time"

	"github.com/arogya-health/clinic-platform/pkg/common/models"
)

var positionRanks = map[models.Position]int{
	models.PositionFront:        1,
	models.PositionLeftProfile:  2,
	models.PositionRightProfile: 3,
	models.PositionBack:         4,
	models.PositionCloseUp:      5,
}

const unrankedPosition = 99

// PositionRank is the display rank of a photo position; OTHER and unknown
// positions sort last.
func PositionRank(position models.Position) int {
	if rank, ok := positionRanks[position]; ok {
		return rank
	}
	return unrankedPosition
}

// Order sorts attachment views for display. Primary key is the explicit
// display order when present, otherwise the position rank. Ties break on
// upload time ascending; legacy items with no timestamp rank as epoch zero
// and therefore sort first within a tie group. Draft buckets and bound
// visits share this one comparator.
func Order(items []models.AttachmentView) []models.AttachmentView {
	sorted := make([]models.AttachmentView, len(items))
	copy(sorted, items)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := orderKey(sorted[i]), orderKey(sorted[j])
		if a != b {
			return a < b
		}
		return uploadedAtKey(sorted[i]).Before(uploadedAtKey(sorted[j]))
	})
	return sorted
}

func orderKey(item models.AttachmentView) int {
	if item.DisplayOrder != nil {
		return *item.DisplayOrder
	}
	return PositionRank(item.Position)
}

func uploadedAtKey(item models.AttachmentView) time.Time {
	if item.UploadedAt == nil {
		return time.Unix(0, 0).UTC()
	}
	return *item.UploadedAt
}
