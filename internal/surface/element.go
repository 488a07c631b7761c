package surface

import (
	"errors"
	"fmt"
	"slices"

	"hotkeys2/internal/hotkeys"
)

// Element is the focused element a key-down event originated from.
type Element interface {
	// TagName returns the upper-case tag name, as DOM's Element.tagName does
	// for HTML documents (e.g. "INPUT", "FLUENT-TEXT-FIELD").
	TagName() string
	// Attr returns an attribute value and whether it is present.
	Attr(name string) (string, bool)
	// IsContentEditable reports the effective (inherited) editability.
	IsContentEditable() bool
	// Matches reports whether the element matches a CSS selector.
	// A malformed selector is an error.
	Matches(selector string) (bool, error)
}

// ErrInvalidSelector wraps selector failures reported by an Element during
// matching. It is a caller configuration error and is never retried.
var ErrInvalidSelector = errors.New("surface: invalid exclude selector")

const (
	inputTagName          = "INPUT"
	fluentInputTagName    = "FLUENT-TEXT-FIELD"
	textAreaTagName       = "TEXTAREA"
	fluentTextAreaTagName = "FLUENT-TEXT-AREA"
)

var nonTextInputTypes = []string{"button", "checkbox", "color", "file", "image", "radio", "range", "reset", "submit"}

func isNonTextInputType(typ string, present bool) bool {
	return present && slices.Contains(nonTextInputTypes, typ)
}

// IsExcludeTarget reports whether el suppresses an entry with the given
// exclusion policy. All checks are OR-ed. A nil element is never excluded.
func IsExcludeTarget(exclude hotkeys.Exclude, excludeSelector string, el Element) (bool, error) {
	if el == nil {
		return false, nil
	}
	tagName := el.TagName()
	typ, hasType := el.Attr("type")

	if exclude.Has(hotkeys.ExcludeInputText) {
		if (tagName == inputTagName || tagName == fluentInputTagName) && !isNonTextInputType(typ, hasType) {
			return true, nil
		}
	}
	if exclude.Has(hotkeys.ExcludeInputNonText) {
		if tagName == inputTagName && isNonTextInputType(typ, hasType) {
			return true, nil
		}
	}
	if exclude.Has(hotkeys.ExcludeTextArea) {
		if tagName == textAreaTagName || tagName == fluentTextAreaTagName {
			return true, nil
		}
	}
	if exclude.Has(hotkeys.ExcludeContentEditable) {
		if el.IsContentEditable() {
			return true, nil
		}
	}

	if excludeSelector != "" {
		matched, err := el.Matches(excludeSelector)
		if err != nil {
			return false, fmt.Errorf("%w %q: %v", ErrInvalidSelector, excludeSelector, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
