package perfstats

// CacheTopN offers a candidate to a capacity-bounded descending ranked
// list. The list is a fixed-length slice whose unfilled slots hold empty
// sentinel stats (rank zero).
//
// A zero-rank candidate never ranks. Otherwise the list is scanned front
// to back and the candidate is inserted before the first element with a
// strictly smaller rank; the tail element is dropped so the length never
// grows. Equal ranks keep the earlier-admitted entry ahead. When every
// element is larger or equal, the candidate is rejected.
//
// The return value tells the caller whether admission occurred, so that
// side tables (e.g. per-UID task counts) are updated only for admitted
// entries.
func CacheTopN(candidate UserPackageStats, topN []UserPackageStats) bool {
	value := candidate.RankValue()
	if value == 0 {
		return false
	}
	for i := range topN {
		if value > topN[i].RankValue() {
			copy(topN[i+1:], topN[i:len(topN)-1])
			topN[i] = candidate
			return true
		}
	}
	return false
}

// TrimEmptyStats truncates a finalized ranked list at its first empty
// sentinel. Sentinels are contiguous at the tail because admission always
// inserts before the first smaller (hence before any empty) element.
func TrimEmptyStats(topN []UserPackageStats) []UserPackageStats {
	for i := range topN {
		if topN[i].IsEmpty() {
			return topN[:i]
		}
	}
	return topN
}
