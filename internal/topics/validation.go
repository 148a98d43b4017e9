package topics

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidTopicName is returned when a topic name is malformed.
	ErrInvalidTopicName = errors.New("topic name must be lowercase dotted segments, e.g. 'pet.state.changed'")

	// ErrInvalidTopicPattern is returned when a topic pattern is malformed.
	ErrInvalidTopicPattern = errors.New("topic pattern must be lowercase dotted segments with an optional trailing '.*'")

	// ErrMissingDescription is returned when a topic has no description.
	ErrMissingDescription = errors.New("topic is missing a description")
)

var (
	topicNameRegex    = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)*$`)
	topicPatternRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)*(\.\*)?$`)
)

// Validate checks a topic descriptor:
//  1. Name must be lowercase dotted segments.
//  2. Pattern must be lowercase dotted segments, optionally ending in ".*".
//  3. Description must be non-empty.
func (t Topic) Validate() error {
	if !topicNameRegex.MatchString(t.Name) {
		return ErrInvalidTopicName
	}

	pattern := t.Pattern
	if pattern == "" {
		pattern = t.Name
	}
	if pattern != "*" && !topicPatternRegex.MatchString(pattern) {
		return ErrInvalidTopicPattern
	}

	if strings.TrimSpace(t.Description) == "" {
		return ErrMissingDescription
	}

	return nil
}

// ValidateName checks a bare topic name without a descriptor.
func ValidateName(name string) error {
	if !topicNameRegex.MatchString(name) {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidatePattern checks a subscription pattern.
func ValidatePattern(pattern string) error {
	if pattern == "*" {
		return nil
	}
	if !topicPatternRegex.MatchString(pattern) {
		return ErrInvalidTopicPattern
	}
	return nil
}
