package bucketevents

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidArgument is returned synchronously when a subscription is declared
// with malformed arguments.
var ErrInvalidArgument = errors.New("bucketevents: invalid argument")

// Category is the first half of a canonical event name.
type Category string

const (
	CategoryCreated  Category = "created"
	CategoryRemoved  Category = "removed"
	CategoryArchived Category = "archived"
	CategoryMetadata Category = "metadata"
)

// AnyQualifier matches every event of a category.
const AnyQualifier = "*"

// GCS notification event types.
const (
	gcsObjectFinalize       = "OBJECT_FINALIZE"
	gcsObjectDelete         = "OBJECT_DELETE"
	gcsObjectArchive        = "OBJECT_ARCHIVE"
	gcsObjectMetadataUpdate = "OBJECT_METADATA_UPDATE"
)

// EventName builds the canonical "<category>:<qualifier>" form. An empty
// qualifier is rejected.
func EventName(category Category, qualifier string) (string, error) {
	if category == "" {
		return "", fmt.Errorf("%w: event category is empty", ErrInvalidArgument)
	}
	if qualifier == "" {
		return "", fmt.Errorf("%w: event qualifier for category %q is empty", ErrInvalidArgument, category)
	}
	return string(category) + ":" + qualifier, nil
}

// gcsEventTypes maps canonical event names to GCS notification event types.
var gcsEventTypes = map[string][]string{
	"created:*":                       {gcsObjectFinalize},
	"created:Put":                     {gcsObjectFinalize},
	"created:Post":                    {gcsObjectFinalize},
	"created:Copy":                    {gcsObjectFinalize},
	"created:CompleteMultipartUpload": {gcsObjectFinalize},
	"removed:*":                       {gcsObjectDelete, gcsObjectArchive},
	"removed:Delete":                  {gcsObjectDelete},
	"removed:DeleteMarkerCreated":     {gcsObjectArchive},
	"archived:*":                      {gcsObjectArchive},
	"archived:Archive":                {gcsObjectArchive},
	"metadata:*":                      {gcsObjectMetadataUpdate},
	"metadata:Update":                 {gcsObjectMetadataUpdate},
}

// GCSEventTypes translates canonical event names into the de-duplicated set of
// GCS notification event types, preserving first-seen order.
func GCSEventTypes(events []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range events {
		types, ok := gcsEventTypes[e]
		if !ok {
			return nil, fmt.Errorf("unsupported bucket event %q", e)
		}
		for _, t := range types {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out, nil
}

// EventFromGCS converts a GCS notification event type back into canonical form.
func EventFromGCS(eventType string) string {
	switch eventType {
	case gcsObjectFinalize:
		return "created:Put"
	case gcsObjectDelete:
		return "removed:Delete"
	case gcsObjectArchive:
		return "archived:Archive"
	case gcsObjectMetadataUpdate:
		return "metadata:Update"
	default:
		return strings.ToLower(eventType)
	}
}
