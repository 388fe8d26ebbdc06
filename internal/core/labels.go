package core

import "fmt"

// Category is the label set the classifier is trained on. Every component
// (dataset prep, training, serving, the gateway) validates against this list;
// a label outside it means the loaded artifact does not match this build.
type Category string

const (
	Business      Category = "Business"
	ScienceTech   Category = "Science&Technology"
	Entertainment Category = "Entertainment"
	Health        Category = "Health"
)

var ErrUnknownCategory = fmt.Errorf("unknown category label")

// Categories returns the label set in canonical order. The order is also the
// tie-break order for argmax.
func Categories() []Category {
	return []Category{Business, ScienceTech, Entertainment, Health}
}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}
