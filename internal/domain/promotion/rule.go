package promotion

// RuleType enumerates the entity kinds an applicability rule can reference.
// The set is closed: rule evaluation matches exhaustively over these values
// and treats anything else as non-matching.
type RuleType string

const (
	RuleProduct        RuleType = "product"
	RuleCategory       RuleType = "category"
	RuleUser           RuleType = "user"
	RuleProductVariant RuleType = "product_variant"
)

// Applicability marks a rule as widening or narrowing the promotion's scope.
type Applicability string

const (
	Include Applicability = "include"
	Exclude Applicability = "exclude"
)

// ApplicabilityRule restricts a promotion to (or bars it from) a product,
// product variant, category subtree, or user.
type ApplicabilityRule struct {
	RuleType      RuleType
	EntityID      string
	Applicability Applicability
}

// Matches reports whether the rule references the given line item or user.
// categories is the item's category lineage (its category plus ancestors);
// category rules are a set-membership test against it. An unrecognized rule
// type never matches, so it contributes nothing whether it is an include or
// an exclude.
func (r ApplicabilityRule) Matches(item Item, categories []string, userID string) bool {
	switch r.RuleType {
	case RuleProduct:
		return r.EntityID == item.ProductID
	case RuleProductVariant:
		return r.EntityID == item.VariantID
	case RuleCategory:
		for _, c := range categories {
			if r.EntityID == c {
				return true
			}
		}
		return false
	case RuleUser:
		return r.EntityID == userID
	default:
		return false
	}
}

// Applicable reports whether a promotion with the given rules applies to the
// line item. A promotion with zero rules applies universally. Otherwise at
// least one include rule must match and no exclude rule may match; an exclude
// always suppresses a matching include regardless of rule order.
func Applicable(rules []ApplicabilityRule, item Item, categories []string, userID string) bool {
	if len(rules) == 0 {
		return true
	}

	included := false
	hasInclude := false
	for _, r := range rules {
		matched := r.Matches(item, categories, userID)
		switch r.Applicability {
		case Exclude:
			if matched {
				return false
			}
		case Include:
			hasInclude = true
			if matched {
				included = true
			}
		}
	}

	// A promotion carrying only exclude rules applies to everything the
	// excludes do not bar.
	if !hasInclude {
		return true
	}
	return included
}
