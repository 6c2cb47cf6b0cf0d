package domain

import "strings"

// CustomerSelectionKind discriminates the CustomerSelection variant.
type CustomerSelectionKind string

const (
	// CustomerUnset means no buyer decision has been made yet.
	CustomerUnset CustomerSelectionKind = ""
	// CustomerGeneric is an anonymous walk-in buyer.
	CustomerGeneric CustomerSelectionKind = "generic"
	// CustomerIdentified references a directory customer.
	CustomerIdentified CustomerSelectionKind = "identified"
)

// CustomerSelection records who the sale is for.
type CustomerSelection struct {
	Kind        CustomerSelectionKind
	ID          string
	DisplayName string
}

// UnsetCustomer returns the zero selection.
func UnsetCustomer() CustomerSelection {
	return CustomerSelection{}
}

// GenericCustomer returns the anonymous buyer selection.
func GenericCustomer() CustomerSelection {
	return CustomerSelection{Kind: CustomerGeneric}
}

// IdentifiedCustomer selects a directory customer by id.
func IdentifiedCustomer(id, displayName string) CustomerSelection {
	id = strings.TrimSpace(id)
	if id == "" {
		return UnsetCustomer()
	}
	return CustomerSelection{Kind: CustomerIdentified, ID: id, DisplayName: strings.TrimSpace(displayName)}
}

// IsSet reports whether a buyer decision has been made.
func (c CustomerSelection) IsSet() bool {
	return c.Kind == CustomerGeneric || c.Kind == CustomerIdentified
}

// Reference returns the wire customer reference and whether one applies.
// Generic selections map to an empty reference.
func (c CustomerSelection) Reference() (string, bool) {
	switch c.Kind {
	case CustomerGeneric:
		return "", true
	case CustomerIdentified:
		return c.ID, true
	default:
		return "", false
	}
}

// CustomerSelectionFromReference reverses Reference. A nil reference is
// Unset and an empty one is Generic.
func CustomerSelectionFromReference(ref *string, displayName string) CustomerSelection {
	if ref == nil {
		return UnsetCustomer()
	}
	if strings.TrimSpace(*ref) == "" {
		return GenericCustomer()
	}
	return IdentifiedCustomer(*ref, displayName)
}
