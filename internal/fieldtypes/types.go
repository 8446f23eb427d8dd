// Package fieldtypes decodes raw list attribute strings into typed values.
//
// Every value arriving from the remote service is a string attribute on a
// record node; the declared field type decides how it is interpreted. The
// decoders are pure functions: identical inputs always yield deep-equal
// outputs.
package fieldtypes

// FieldType is the declared object type of a list field.
type FieldType string

const (
	TypeText        FieldType = "Text"
	TypeNote        FieldType = "Note"
	TypeHTML        FieldType = "HTML"
	TypeChoice      FieldType = "Choice"
	TypeMultiChoice FieldType = "MultiChoice"
	TypeInteger     FieldType = "Integer"
	TypeCounter     FieldType = "Counter"
	TypeNumber      FieldType = "Number"
	TypeFloat       FieldType = "Float"
	TypeCurrency    FieldType = "Currency"
	TypeBoolean     FieldType = "Boolean"
	TypeDateTime    FieldType = "DateTime"
	TypeLookup      FieldType = "Lookup"
	TypeLookupMulti FieldType = "LookupMulti"
	TypeUser        FieldType = "User"
	TypeUserMulti   FieldType = "UserMulti"
	TypeJSON        FieldType = "JSON"
	TypeCalculated  FieldType = "Calculated"
	TypeAttachments FieldType = "Attachments"
)

// Lookup is a reference to an entity in another list: a numeric id plus the
// display value the server rendered for it.
type Lookup struct {
	LookupID    int    `json:"lookupId"`
	LookupValue string `json:"lookupValue"`
}

// User is a lookup into the site user collection. The value portion may carry
// extended sub-fields beyond the display value.
type User struct {
	LookupID    int    `json:"lookupId"`
	LookupValue string `json:"lookupValue"`
	LoginName   string `json:"loginName,omitempty"`
	Email       string `json:"email,omitempty"`
	SipAddress  string `json:"sipAddress,omitempty"`
	Title       string `json:"title,omitempty"`
}

// DefaultValue returns the empty representation for a field of type ft.
// Record parsing pre-populates every mapped field with this value so columns
// the server omitted still appear with the correct shape.
func DefaultValue(ft FieldType) any {
	switch ft {
	case TypeText, TypeNote, TypeHTML, TypeChoice, TypeCalculated:
		return ""
	case TypeMultiChoice:
		return []string{}
	case TypeLookupMulti:
		return []Lookup{}
	case TypeUserMulti:
		return []User{}
	default:
		return nil
	}
}
