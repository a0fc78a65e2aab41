package optimizely

import (
	"sort"

	"github.com/twmb/murmur3"
)

const (
	// bucketingSeed is the murmur3 seed shared by all SDKs talking to
	// the same project; changing it would reshuffle every experiment.
	bucketingSeed = 1

	// maxBucketValue is the number of buckets traffic is divided over.
	maxBucketValue = 10000

	// bucketingIDAttribute overrides which id a user is bucketed by.
	bucketingIDAttribute = "$opt_bucketing_id"
)

// bucketValue hashes bucketingID and experimentID into a bucket in
// [0, maxBucketValue). The hash is MurmurHash3 x86 32-bit over the
// concatenated ASCII bytes; the reduction below is the exact integer
// form of floor(hash * maxBucketValue / 2^32).
func bucketValue(bucketingID, experimentID string) int {
	hash := murmur3.SeedSum32(bucketingSeed, []byte(bucketingID+experimentID))
	return int(uint64(hash) * maxBucketValue >> 32)
}

// TrafficRange assigns the bucket values below EndOfRange, and at or
// above the previous range's end, to one variation.
type TrafficRange struct {
	// VariationID is the id of the variation served in this range.
	VariationID string `json:"entityId"`
	// EndOfRange is the exclusive upper bound of the range.
	EndOfRange int `json:"endOfRange"`
}

// variationForBucket finds the range containing the bucket value and
// returns its variation id. The ranges are in ascending EndOfRange
// order, so the match is the first range ending above the value. A
// value at or past the last end belongs to no range: the user stays
// unallocated.
func variationForBucket(allocation []TrafficRange, bucket int) (string, bool) {
	i := sort.Search(len(allocation), func(i int) bool {
		return allocation[i].EndOfRange > bucket
	})
	if i == len(allocation) {
		return "", false
	}
	return allocation[i].VariationID, true
}

// bucketUser buckets one user into an experiment's traffic allocation,
// honoring the bucketing id override attribute. The returned Variation
// is nil when the user is unallocated or the allocated variation no
// longer exists in the experiment.
func bucketUser(user *UserContext, experiment *Experiment) *Variation {
	bucketingID := user.userID
	if attr, ok := user.attributes[bucketingIDAttribute]; ok {
		if s, isString := attr.Value.AsString(); isString {
			bucketingID = s
		}
	}
	bucket := bucketValue(bucketingID, experiment.ID)
	variationID, ok := variationForBucket(experiment.TrafficAllocation, bucket)
	if !ok {
		return nil
	}
	return experiment.variationsByID[variationID]
}
