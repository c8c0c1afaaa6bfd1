package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-health-api/internal/models"
)

func TestMergePayloadsFillsGapsOnly(t *testing.T) {
	schema, _ := models.SchemaFor(models.RecordKindProfile)
	source := models.Payload{"phone": "555", "blood_type": "B", "city": ""}
	target := models.Payload{"phone": "", "blood_type": "A", "city": "Springfield"}

	merged, changes := MergePayloads(schema, source, target)

	require.Equal(t, "555", merged["phone"])
	require.Equal(t, "A", merged["blood_type"])
	require.Equal(t, "Springfield", merged["city"])
	require.Len(t, changes, 1)
	require.Equal(t, "phone", changes[0].Field)
	require.Equal(t, models.MergeRuleCopied, changes[0].Rule)
	require.Equal(t, "", target["phone"], "target must not be mutated")
}

func TestMergePayloadsUnionsLists(t *testing.T) {
	schema, _ := models.SchemaFor(models.RecordKindProfile)
	source := models.Payload{"allergies": []interface{}{"latex", "penicillin"}}
	target := models.Payload{"allergies": []interface{}{"penicillin"}}

	merged, changes := MergePayloads(schema, source, target)

	require.Equal(t, []interface{}{"penicillin", "latex"}, merged["allergies"])
	require.Len(t, changes, 1)
	require.Equal(t, models.MergeRuleUnioned, changes[0].Rule)
}

func TestMergePayloadsKeepsTargetAttachment(t *testing.T) {
	schema, _ := models.SchemaFor(models.RecordKindProfile)
	source := models.Payload{"photo": "uploads/new.jpg"}
	target := models.Payload{"photo": "uploads/old.jpg"}

	merged, changes := MergePayloads(schema, source, target)

	require.Equal(t, "uploads/old.jpg", merged["photo"])
	require.Empty(t, changes)
}

func TestMergePayloadsSubsetListIsNoChange(t *testing.T) {
	schema, _ := models.SchemaFor(models.RecordKindProfile)
	source := models.Payload{"conditions": []interface{}{"asthma"}}
	target := models.Payload{"conditions": []interface{}{"asthma", "migraine"}}

	_, changes := MergePayloads(schema, source, target)
	require.Empty(t, changes)
}

func TestAutofillNeverOverwrites(t *testing.T) {
	schema, _ := models.SchemaFor(models.RecordKindProfile)
	subject := newSubjectStub().subjects["sub-1"]

	out := Autofill(schema, models.Payload{"first_name": "Anita"}, subject)

	require.Equal(t, "Anita", out["first_name"])
	require.Equal(t, "Reyes", out["last_name"])
	require.Equal(t, "student", out["category"])
	_, hasPhone := out["phone"]
	require.False(t, hasPhone, "empty attributes are not copied")
}

func TestAutofillWaiverUsesFullName(t *testing.T) {
	schema, _ := models.SchemaFor(models.RecordKindWaiver)
	subject := newSubjectStub().subjects["sub-1"]

	out := Autofill(schema, models.Payload{}, subject)
	require.Equal(t, "Ana Reyes", out["full_name"])
	require.Equal(t, "ana@campus.test", out["email"])
}

func TestComputeCompleteness(t *testing.T) {
	payload := models.Payload{
		"first_name":              "Ana",
		"last_name":               "Reyes",
		"birth_date":              "2004-02-11",
		"sex":                     "F",
		"blood_type":              "O",
		"photo":                   "uploads/ana.jpg",
		"emergency_contact_name":  "Luis",
		"emergency_contact_phone": "555",
	}
	require.Equal(t, 80, ComputeCompleteness(models.DocumentKindHealthCertificate, payload))
	require.Equal(t, []string{"chest_xray_result", "lab_results"}, MissingFields(models.DocumentKindHealthCertificate, payload))

	payload["chest_xray_result"] = "normal"
	payload["lab_results"] = []interface{}{"cbc"}
	require.Equal(t, 100, ComputeCompleteness(models.DocumentKindHealthCertificate, payload))
	require.Empty(t, MissingFields(models.DocumentKindHealthCertificate, payload))

	require.Equal(t, 100, ComputeCompleteness("unknown", nil))
}
