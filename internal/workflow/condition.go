package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/zulandar/listingdesk/internal/event"
	"github.com/zulandar/listingdesk/internal/models"
)

// Snapshot is the flat view of a contact (and the triggering event) that
// conditions and templates read. Keys are snake_case; event data lives
// under "event.<key>".
type Snapshot map[string]any

// Lookup resolves field in either camelCase or snake_case form.
func (s Snapshot) Lookup(field string) (any, bool) {
	if v, ok := s[field]; ok {
		return v, true
	}
	v, ok := s[snakeCase(field)]
	return v, ok
}

// ContactSnapshot flattens c for condition evaluation.
func ContactSnapshot(c *models.Contact) Snapshot {
	s := Snapshot{
		"id":                c.ID,
		"first_name":        c.FirstName,
		"last_name":         c.LastName,
		"email":             c.Email,
		"phone":             c.Phone,
		"source":            c.Source,
		"stage":             c.Stage,
		"status":            c.Status,
		"tags":              []string(c.Tags),
		"assigned_agent_id": c.AssignedAgentID,
		"suburb":            c.Suburb,
		"notes":             c.Notes,
		"created_at":        c.CreatedAt,
	}
	setFloat(s, "budget_min", c.BudgetMin)
	setFloat(s, "budget_max", c.BudgetMax)
	setTime(s, "last_contact_at", c.LastContactAt)
	setTime(s, "next_follow_up_at", c.NextFollowUpAt)
	setTime(s, "settlement_date", c.SettlementDate)
	setTime(s, "date_of_birth", c.DateOfBirth)
	return s
}

func setFloat(s Snapshot, key string, v *float64) {
	if v == nil {
		s[key] = nil
		return
	}
	s[key] = *v
}

func setTime(s Snapshot, key string, v *time.Time) {
	if v == nil {
		s[key] = nil
		return
	}
	s[key] = *v
}

// withEvent adds the event's type and data to s.
func (s Snapshot) withEvent(ev event.Event) Snapshot {
	s["event_type"] = string(ev.Type)
	for k, v := range ev.Data {
		s["event."+k] = v
	}
	return s
}

// EvaluateAll reports whether every condition holds. An empty list passes.
func EvaluateAll(conds []Condition, s Snapshot) bool {
	for _, c := range conds {
		if !Evaluate(c, s) {
			return false
		}
	}
	return true
}

// Evaluate tests a single condition against s. Missing fields are empty.
func Evaluate(c Condition, s Snapshot) bool {
	v, _ := s.Lookup(c.Field)
	switch c.Operator {
	case OpIsEmpty:
		return isEmpty(v)
	case OpIsNotEmpty:
		return !isEmpty(v)
	case OpEquals:
		return valuesEqual(v, c.Value)
	case OpNotEquals:
		return !valuesEqual(v, c.Value)
	case OpContains:
		return contains(v, c.Value)
	case OpGreaterThan:
		cmp, ok := compare(v, c.Value)
		return ok && cmp > 0
	case OpLessThan:
		cmp, ok := compare(v, c.Value)
		return ok && cmp < 0
	}
	return false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) == ""
	case time.Time:
		return x.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	}
	return false
}

// valuesEqual compares numerically when both sides are numbers, otherwise
// as case-insensitive strings.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return isEmpty(a) && isEmpty(b)
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
	}
	if x, ok := a.(bool); ok {
		if y, ok := toBool(b); ok {
			return x == y
		}
	}
	return strings.EqualFold(toString(a), toString(b))
}

func contains(haystack, needle any) bool {
	if haystack == nil || needle == nil {
		return false
	}
	rv := reflect.ValueOf(haystack)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if valuesEqual(rv.Index(i).Interface(), needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(toString(haystack)), strings.ToLower(toString(needle)))
}

// compare orders a and b numerically, or chronologically when both are
// dates. ok is false when neither ordering applies.
func compare(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if x, ok := toTime(a); ok {
		if y, ok := toTime(b); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	return false, false
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// snakeCase converts "budgetMax" to "budget_max". Runs of capitals stay
// together, so "contactID" becomes "contact_id".
func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
