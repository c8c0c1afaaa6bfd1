package models

// FieldType tells the merge and completeness logic how to treat a payload field.
type FieldType string

const (
	FieldScalar     FieldType = "scalar"
	FieldList       FieldType = "list"
	FieldAttachment FieldType = "attachment"
)

// PayloadSchema describes the payload of one record kind.
type PayloadSchema struct {
	Kind   RecordKind
	Fields map[string]FieldType
	// Autofill maps payload fields to subject attributes.
	Autofill map[string]string
}

// TypeOf returns the declared type of a field; undeclared fields are scalars.
func (s PayloadSchema) TypeOf(field string) FieldType {
	if t, ok := s.Fields[field]; ok {
		return t
	}
	return FieldScalar
}

var profileSchema = PayloadSchema{
	Kind: RecordKindProfile,
	Fields: map[string]FieldType{
		"first_name":              FieldScalar,
		"middle_name":             FieldScalar,
		"last_name":               FieldScalar,
		"email":                   FieldScalar,
		"phone":                   FieldScalar,
		"category":                FieldScalar,
		"sex":                     FieldScalar,
		"birth_date":              FieldScalar,
		"address":                 FieldScalar,
		"city":                    FieldScalar,
		"province":                FieldScalar,
		"blood_type":              FieldScalar,
		"emergency_contact_name":  FieldScalar,
		"emergency_contact_phone": FieldScalar,
		"chest_xray_result":       FieldScalar,
		"photo":                   FieldAttachment,
		"allergies":               FieldList,
		"medications":             FieldList,
		"conditions":              FieldList,
		"immunizations":           FieldList,
		"lab_results":             FieldList,
	},
	Autofill: map[string]string{
		"first_name":  AttrFirstName,
		"middle_name": AttrMiddleName,
		"last_name":   AttrLastName,
		"email":       AttrEmail,
		"phone":       AttrPhone,
		"category":    AttrCategory,
		"sex":         AttrSex,
		"birth_date":  AttrBirthDate,
		"address":     AttrAddress,
		"city":        AttrCity,
		"province":    AttrProvince,
	},
}

var waiverSchema = PayloadSchema{
	Kind: RecordKindWaiver,
	Fields: map[string]FieldType{
		"full_name":             FieldScalar,
		"email":                 FieldScalar,
		"guardian_name":         FieldScalar,
		"guardian_phone":        FieldScalar,
		"signed_on":             FieldScalar,
		"signature":             FieldAttachment,
		"acknowledged_policies": FieldList,
	},
	Autofill: map[string]string{
		"full_name": AttrFullName,
		"email":     AttrEmail,
	},
}

// SchemaFor returns the payload schema registered for kind.
func SchemaFor(kind RecordKind) (PayloadSchema, bool) {
	switch kind {
	case RecordKindProfile:
		return profileSchema, true
	case RecordKindWaiver:
		return waiverSchema, true
	}
	return PayloadSchema{}, false
}
