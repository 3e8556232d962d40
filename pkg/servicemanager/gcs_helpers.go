package servicemanager

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// gcsBucketValidationRegex is a basic sanity check on bucket names. It does
	// not enforce every GCS rule (IP-address names, "goog" prefixes).
	gcsBucketValidationRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-_.]{1,61}[a-z0-9]$`)

	// topicInvalidChars matches characters not allowed in a Pub/Sub resource id.
	topicInvalidChars = regexp.MustCompile(`[^A-Za-z0-9\-_.~+%]`)
)

const (
	maxBucketNameLength = 63
	maxTopicIDLength    = 255
)

// GenerateTestBucketName creates a unique, valid bucket name for tests by
// appending a compact UUID to prefix.
func GenerateTestBucketName(prefix string) string {
	uniqueID := strings.ReplaceAll(uuid.New().String(), "-", "")
	bucketName := strings.ToLower(fmt.Sprintf("%s-%s", prefix, uniqueID))
	if len(bucketName) > maxBucketNameLength {
		bucketName = bucketName[:maxBucketNameLength]
	}
	return strings.TrimRight(bucketName, "-_")
}

// IsValidBucketName checks if a given string is a plausible GCS bucket name.
func IsValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > maxBucketNameLength {
		return false
	}
	return gcsBucketValidationRegex.MatchString(name)
}

// PubsubID turns an arbitrary logical name into a valid Pub/Sub topic or
// subscription id. Ids must start with a letter and be at least 3 characters.
func PubsubID(parts ...string) string {
	id := topicInvalidChars.ReplaceAllString(strings.Join(parts, "-"), "-")
	if id == "" || !isLetter(id[0]) {
		id = "be-" + id
	}
	for len(id) < 3 {
		id += "-"
	}
	if len(id) > maxTopicIDLength {
		id = id[:maxTopicIDLength]
	}
	return id
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
