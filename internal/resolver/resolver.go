// Package resolver expands template elements against runtime data
package resolver

import (
	"fmt"
	"strings"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/pkg/labelformat"
)

// ResolvedElement is a template element with its final content
type ResolvedElement struct {
	labelformat.Element
	Content string
}

// Resolve produces one ResolvedElement per template element, in template order.
// A key that is absent from data is an error; an empty value is not.
func Resolve(tpl *labelformat.Template, data map[string]string) ([]ResolvedElement, error) {
	resolved := make([]ResolvedElement, 0, len(tpl.Elements))

	for _, el := range tpl.Elements {
		content, err := resolveElement(&el, data)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, ResolvedElement{Element: el, Content: content})
	}

	return resolved, nil
}

func resolveElement(el *labelformat.Element, data map[string]string) (string, error) {
	switch el.Source {
	case labelformat.SourceFixed:
		return el.Value, nil

	case labelformat.SourceInput:
		value, ok := data[el.Key]
		if !ok {
			return "", &labelerr.MissingKeyError{ElementID: el.ID, Keys: []string{el.Key}}
		}
		return value, nil

	case labelformat.SourceComputed:
		return substitute(el, data)

	default:
		return "", fmt.Errorf("element '%s': unknown source '%s'", el.ID, el.Source)
	}
}

// substitute replaces every {name} in the element format, collecting all
// missing names before failing
func substitute(el *labelformat.Element, data map[string]string) (string, error) {
	names := labelformat.Placeholders(el.Format)

	var missing []string
	pairs := make([]string, 0, len(names)*2)
	for _, name := range names {
		value, ok := data[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		pairs = append(pairs, "{"+name+"}", value)
	}

	if len(missing) > 0 {
		return "", &labelerr.MissingKeyError{ElementID: el.ID, Keys: missing}
	}

	return strings.NewReplacer(pairs...).Replace(el.Format), nil
}
