package dedup

import (
	"strings"

	"github.com/driftmarkets/candleledger/internal/model"
)

// Compare orders two versions of the same key under the resolution total
// order. It returns +1 when a outranks b, -1 when b outranks a, and 0 only
// when both refer to the same version.
//
// Precedence: quality score, then ingestion time (later wins, a correction
// outranks what it corrects), then run ID, then version ID. The trailing
// string components exist purely to make the order total; any deterministic
// comparison would do.
func Compare(a, b model.CandleVersion) int {
	if a.QualityScore != b.QualityScore {
		if a.QualityScore > b.QualityScore {
			return 1
		}
		return -1
	}
	if a.IngestedAt != b.IngestedAt {
		if a.IngestedAt > b.IngestedAt {
			return 1
		}
		return -1
	}
	if c := strings.Compare(a.RunID, b.RunID); c != 0 {
		return c
	}
	return strings.Compare(a.VersionID, b.VersionID)
}

// Winner returns the visible version among the given set: the maximum live
// version under Compare. The second return is false when every version is
// superseded or the set is empty.
func Winner(versions []model.CandleVersion) (model.CandleVersion, bool) {
	var (
		best  model.CandleVersion
		found bool
	)
	for _, v := range versions {
		if v.Superseded {
			continue
		}
		if !found || Compare(v, best) > 0 {
			best = v
			found = true
		}
	}
	return best, found
}

// Prunable returns the versions of one key that compaction may remove: every
// tombstoned version plus every live version that loses to the winner. When
// no live version exists the whole set is prunable, since the key resolves to
// nothing either way.
func Prunable(versions []model.CandleVersion) []model.CandleVersion {
	winner, found := Winner(versions)

	var out []model.CandleVersion
	for _, v := range versions {
		if found && v.VersionID == winner.VersionID {
			continue
		}
		out = append(out, v)
	}
	return out
}
