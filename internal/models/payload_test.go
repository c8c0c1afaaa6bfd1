package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadScanAndValue(t *testing.T) {
	var p Payload
	require.NoError(t, p.Scan([]byte(`{"city":"Springfield","allergies":["pollen"]}`)))
	require.Equal(t, "Springfield", p["city"])
	require.Equal(t, []interface{}{"pollen"}, p["allergies"])

	raw, err := p.Value()
	require.NoError(t, err)
	require.JSONEq(t, `{"city":"Springfield","allergies":["pollen"]}`, string(raw.([]byte)))

	require.NoError(t, p.Scan(nil))
	require.Empty(t, p)
	require.Error(t, p.Scan(42))
}

func TestPayloadCloneIsDeep(t *testing.T) {
	p := Payload{"allergies": []interface{}{"pollen"}}
	c := p.Clone()
	c["allergies"].([]interface{})[0] = "dust"
	require.Equal(t, "pollen", p["allergies"].([]interface{})[0])
}

func TestIsEmptyValue(t *testing.T) {
	require.True(t, IsEmptyValue(nil))
	require.True(t, IsEmptyValue("  "))
	require.True(t, IsEmptyValue([]interface{}{}))
	require.True(t, IsEmptyValue(map[string]interface{}{}))
	require.False(t, IsEmptyValue("x"))
	require.False(t, IsEmptyValue(false))
	require.False(t, IsEmptyValue(0.0))
}

func TestCertificationTransitions(t *testing.T) {
	require.True(t, CertificationPending.CanTransitionTo(CertificationVerified))
	require.True(t, CertificationVerified.CanTransitionTo(CertificationIssued))
	require.True(t, CertificationRejected.CanTransitionTo(CertificationPending))
	require.False(t, CertificationPending.CanTransitionTo(CertificationIssued))
	require.False(t, CertificationIssued.CanTransitionTo(CertificationRejected))
	require.False(t, CertificationRejected.CanTransitionTo(CertificationIssued))
}

func TestSubjectAttributesSkipsBlanks(t *testing.T) {
	s := Subject{FirstName: "Ada", LastName: "Lovelace", Email: " ", Category: SubjectCategoryStudent}
	attrs := s.Attributes()
	require.Equal(t, "Ada Lovelace", attrs[AttrFullName])
	require.Equal(t, "student", attrs[AttrCategory])
	_, hasEmail := attrs[AttrEmail]
	require.False(t, hasEmail)
}
