package fieldtypes

import (
	"encoding/json"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"listsync/internal/core/apperror"
)

// Wire delimiters used by the list service.
const (
	// pairDelimiter separates id/value pairs and multi-value segments.
	pairDelimiter = ";#"

	// subFieldDelimiter separates extended sub-fields inside a user value.
	subFieldDelimiter = ",#"
)

// Decode converts a raw attribute string into the typed value declared by ft.
//
// The raw string is HTML-unescaped before type dispatch. Every decoder
// tolerates an empty input: numeric types pass the empty string through
// unchanged so "absent" stays distinguishable from zero, Boolean treats it as
// true (the service omits the attribute entirely for false in some views, and
// an empty present attribute means checked), lookups yield nil and multi
// variants yield empty lists.
//
// A returned error is always recoverable at the record level: the caller
// logs it, records a nil value and continues with sibling fields.
func Decode(raw string, ft FieldType) (any, error) {
	str := html.UnescapeString(raw)

	switch ft {
	case TypeText, TypeNote, TypeHTML, TypeChoice:
		return str, nil

	case TypeInteger, TypeCounter:
		if str == "" {
			return str, nil
		}
		n, err := strconv.Atoi(str)
		if err != nil {
			return nil, apperror.NewDecode(string(ft), str, err)
		}
		return n, nil

	case TypeNumber, TypeFloat:
		if str == "" {
			return str, nil
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, apperror.NewDecode(string(ft), str, err)
		}
		return f, nil

	case TypeCurrency:
		if str == "" {
			return str, nil
		}
		d, err := decimal.NewFromString(str)
		if err != nil {
			return nil, apperror.NewDecode(string(ft), str, err)
		}
		return d, nil

	case TypeBoolean:
		return decodeBoolean(str), nil

	case TypeDateTime:
		if str == "" {
			return str, nil
		}
		t, err := DecodeDateTime(str)
		if err != nil {
			return nil, apperror.NewDecode(string(ft), str, err)
		}
		return t, nil

	case TypeLookup:
		l := decodeLookup(str)
		if l == nil {
			return nil, nil
		}
		return *l, nil

	case TypeUser:
		u := decodeUser(str)
		if u == nil {
			return nil, nil
		}
		return *u, nil

	case TypeLookupMulti:
		return decodeLookupMulti(str), nil

	case TypeUserMulti:
		return decodeUserMulti(str), nil

	case TypeMultiChoice:
		return decodeMultiChoice(str), nil

	case TypeCalculated:
		return decodeCalculated(str)

	case TypeJSON:
		var v any
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, apperror.NewDecode(string(ft), str, err)
		}
		return v, nil

	case TypeAttachments:
		return decodeAttachments(str), nil

	default:
		// Unknown declared type: pass the unescaped string through.
		return str, nil
	}
}

// decodeBoolean maps "0" and "False" to false and everything else, the empty
// string included, to true. The asymmetry with numeric fields is deliberate.
func decodeBoolean(str string) bool {
	return str != "0" && str != "False"
}

// DecodeDateTime parses a service timestamp: "-"-separated date, then either
// "T" or a space before the optional time portion. No timezone conversion
// happens here; the wall-clock fields are kept as sent. Use ToLocal for an
// explicit conversion.
func DecodeDateTime(str string) (time.Time, error) {
	layouts := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var firstErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, str)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// ToLocal reinterprets a decoded timestamp's wall-clock fields in the local
// timezone. This is the explicit conversion step the decoder itself skips.
func ToLocal(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
}

func decodeLookup(str string) *Lookup {
	if str == "" {
		return nil
	}
	id, value := splitPair(str)
	return &Lookup{LookupID: id, LookupValue: value}
}

// decodeUser parses a user value. Extended sub-fields (login name, email,
// sip address, title) are present only when the value portion itself contains
// the sub-field delimiter.
func decodeUser(str string) *User {
	if str == "" {
		return nil
	}
	id, value := splitPair(str)
	u := &User{LookupID: id, LookupValue: value}
	if strings.Contains(value, subFieldDelimiter) {
		parts := strings.Split(value, subFieldDelimiter)
		u.LookupValue = parts[0]
		if len(parts) > 1 {
			u.LoginName = parts[1]
		}
		if len(parts) > 2 {
			u.Email = parts[2]
		}
		if len(parts) > 3 {
			u.SipAddress = parts[3]
		}
		if len(parts) > 4 {
			u.Title = parts[4]
		}
	}
	return u
}

func decodeLookupMulti(str string) []Lookup {
	out := []Lookup{}
	segments := strings.Split(str, pairDelimiter)
	for i := 0; i+1 < len(segments); i += 2 {
		if segments[i] == "" && segments[i+1] == "" {
			continue
		}
		id, _ := strconv.Atoi(segments[i])
		out = append(out, Lookup{LookupID: id, LookupValue: segments[i+1]})
	}
	return out
}

func decodeUserMulti(str string) []User {
	out := []User{}
	for _, l := range decodeLookupMulti(str) {
		u := decodeUser(strconv.Itoa(l.LookupID) + pairDelimiter + l.LookupValue)
		if u != nil {
			out = append(out, *u)
		}
	}
	return out
}

func decodeMultiChoice(str string) []string {
	out := []string{}
	for _, segment := range strings.Split(str, pairDelimiter) {
		if segment == "" {
			continue
		}
		out = append(out, segment)
	}
	return out
}

// decodeCalculated handles values prefixed with their actual type, e.g.
// "float;#23.5". The embedded type drives a recursive decode.
func decodeCalculated(str string) (any, error) {
	if str == "" {
		return "", nil
	}
	prefix, value, found := strings.Cut(str, pairDelimiter)
	if !found {
		return str, nil
	}
	switch strings.ToLower(prefix) {
	case "float", "number":
		return Decode(value, TypeNumber)
	case "currency":
		return Decode(value, TypeCurrency)
	case "int", "integer", "counter":
		return Decode(value, TypeInteger)
	case "boolean":
		return Decode(value, TypeBoolean)
	case "datetime", "date":
		return Decode(value, TypeDateTime)
	default:
		return value, nil
	}
}

// decodeAttachments resolves the dual representation of the attachments
// field: a purely numeric string is an attachment count, anything else is a
// delimited list of URLs. The ambiguity is inherent in the raw string; the
// numeric-means-count heuristic is preserved as-is.
func decodeAttachments(str string) any {
	if str != "" {
		if n, err := strconv.Atoi(str); err == nil {
			return n
		}
	}
	urls := []string{}
	for _, segment := range strings.Split(str, pairDelimiter) {
		if segment == "" {
			continue
		}
		urls = append(urls, segment)
	}
	return urls
}

// splitPair splits "id;#value" into its parts. A missing delimiter leaves the
// whole string as the value with id 0.
func splitPair(str string) (int, string) {
	idPart, value, found := strings.Cut(str, pairDelimiter)
	if !found {
		return 0, str
	}
	id, _ := strconv.Atoi(idPart)
	return id, value
}
