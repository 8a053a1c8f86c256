package service

import (
	"regexp"
	"strconv"
)

const (
	sourceEventTagPrefix = "\n\n\n\nSourceEvent#"
	shadowDescription    = "The calendar owner is busy at this time with a private event."
)

var sourceEventTagPattern = regexp.MustCompile(`SourceEvent#([0-9]+)`)

// AddSourceEventTag appends the source linkage tag to a description
func AddSourceEventTag(sourceEventID int64, description string) string {
	return description + sourceEventTagPrefix + strconv.FormatInt(sourceEventID, 10)
}

// ExtractSourceEventTag returns the source event id embedded in a description, or nil
func ExtractSourceEventTag(description string) *int64 {
	match := sourceEventTagPattern.FindStringSubmatch(description)
	if match == nil {
		return nil
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// ShadowDescription is the description written on a shadow of sourceEventID
func ShadowDescription(sourceEventID int64) string {
	return AddSourceEventTag(sourceEventID, shadowDescription)
}
