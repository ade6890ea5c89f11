// pkg/lti/outcomes/outcome.go
package outcomes

import (
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

// Action selects what a service request does.
type Action int

const (
	Read Action = iota + 1
	Write
	Delete
)

func (a Action) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// Result value types understood by consumers.
const (
	TypeDecimal      = "decimal"
	TypePercentage   = "percentage"
	TypeRatio        = "ratio"
	TypeLetterAF     = "letteraf"
	TypeLetterAFPlus = "letterafplus"
	TypePassFail     = "passfail"
	TypeText         = "freetext"
)

// Outcome is a result value for one sourcedid.
type Outcome struct {
	SourcedID  string
	Value      string
	Language   string
	Status     string
	Date       string
	Type       string
	DataSource string
}

// NewOutcome returns a decimal outcome in en-US dated now.
func NewOutcome(sourcedID, value string) *Outcome {
	return &Outcome{
		SourcedID: sourcedID,
		Value:     value,
		Language:  "en-US",
		Date:      time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Type:      TypeDecimal,
	}
}

// SupportedTypes returns the value types the link's consumer reported at
// launch, defaulting to decimal.
func SupportedTypes(l *lti.ResourceLink) []string {
	raw := strings.ToLower(strings.ReplaceAll(l.Setting("ext_ims_lis_resultvalue_sourcedids", TypeDecimal), " ", ""))
	return strings.Split(raw, ",")
}

// CheckValueType reports whether o can be sent as one of the supported
// types, converting its type and value in place where needed. A nil
// supported list means SupportedTypes(l).
func CheckValueType(l *lti.ResourceLink, o *Outcome, supported []string) bool {
	if len(supported) == 0 {
		supported = SupportedTypes(l)
	}
	value := o.Value
	if has(supported, o.Type) || value == "" {
		return true
	}

	switch o.Type {
	case TypePercentage:
		value = strings.TrimSuffix(value, "%")
		f, ok := numeric(value)
		if !ok || f < 0 || f > 100 {
			return false
		}
		o.Value, o.Type = formatFloat(f/100), TypeDecimal
		return true

	case TypeRatio:
		parts := strings.SplitN(value, "/", 2)
		if len(parts) != 2 {
			return false
		}
		num, ok1 := numeric(parts[0])
		den, ok2 := numeric(parts[1])
		if !ok1 || !ok2 || num < 0 || den <= 0 {
			return false
		}
		o.Value, o.Type = formatFloat(num/den), TypeDecimal
		return true

	case TypeLetterAF:
		switch {
		case has(supported, TypeLetterAFPlus):
			o.Type = TypeLetterAFPlus
		case has(supported, TypeText):
			o.Type = TypeText
		default:
			return false
		}
		return true

	case TypeLetterAFPlus:
		switch {
		case has(supported, TypeLetterAF) && len(value) == 1:
			o.Type = TypeLetterAF
		case has(supported, TypeText):
			o.Type = TypeText
		default:
			return false
		}
		return true

	case TypeText:
		if f, ok := numeric(value); ok && f >= 0 && f <= 1 {
			o.Type = TypeDecimal
			return true
		}
		if !strings.HasSuffix(value, "%") {
			return false
		}
		f, ok := numeric(strings.TrimSuffix(value, "%"))
		if !ok || f < 0 || f > 100 {
			return false
		}
		if has(supported, TypePercentage) {
			o.Type = TypePercentage
		} else {
			o.Value, o.Type = formatFloat(f/100), TypeDecimal
		}
		return true
	}
	return false
}

func has(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func numeric(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
