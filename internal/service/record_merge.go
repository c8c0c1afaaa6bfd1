package service

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/noah-isme/campus-health-api/internal/models"
)

// MergePayloads folds the unassigned source payload into the resolved target.
// A non-empty source value only lands on an empty target field, except for
// list fields where both sides are unioned. The target is never modified;
// the merged copy and the per-field changes are returned.
func MergePayloads(schema models.PayloadSchema, source, target models.Payload) (models.Payload, []models.FieldChange) {
	merged := make(models.Payload, len(target)+len(source))
	for field, value := range target {
		merged[field] = value
	}
	fields := make([]string, 0, len(source))
	for field := range source {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var changes []models.FieldChange
	for _, field := range fields {
		sv := source[field]
		if models.IsEmptyValue(sv) {
			continue
		}
		tv := target[field]
		if models.IsEmptyValue(tv) {
			merged[field] = sv
			changes = append(changes, models.FieldChange{Field: field, Rule: models.MergeRuleCopied, Before: tv, After: sv})
			continue
		}
		if schema.TypeOf(field) != models.FieldList {
			continue
		}
		tl, tok := asList(tv)
		sl, sok := asList(sv)
		if !tok || !sok {
			continue
		}
		union := unionLists(tl, sl)
		if len(union) == len(tl) {
			continue
		}
		merged[field] = union
		changes = append(changes, models.FieldChange{Field: field, Rule: models.MergeRuleUnioned, Before: tv, After: union})
	}
	return merged.Clone(), changes
}

// Autofill copies subject attributes into empty payload fields mapped by the
// schema. Non-empty fields are left alone.
func Autofill(schema models.PayloadSchema, payload models.Payload, subject *models.Subject) models.Payload {
	out := payload.Clone()
	if subject == nil {
		return out
	}
	attrs := subject.Attributes()
	for field, attr := range schema.Autofill {
		value, ok := attrs[attr]
		if !ok || out.Filled(field) {
			continue
		}
		out[field] = value
	}
	return out
}

func asList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	}
	return nil, false
}

// unionLists keeps target order and appends source elements not already
// present. Elements are compared by their JSON encoding.
func unionLists(target, source []interface{}) []interface{} {
	seen := make(map[string]bool, len(target)+len(source))
	out := make([]interface{}, 0, len(target)+len(source))
	for _, list := range [][]interface{}{target, source} {
		for _, item := range list {
			key := listKey(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}

func listKey(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(data)
}
