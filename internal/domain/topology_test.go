package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRelationship(t *testing.T) {
	tests := []struct {
		in      string
		want    Relationship
		wantErr bool
	}{
		{in: "Conflicting", want: RelationConflicting},
		{in: "Non-Conflicting", want: RelationNonConflicting},
		{in: "  conflicting\t", want: RelationConflicting},
		{in: "non-conflicting", want: RelationNonConflicting},
		{in: "", wantErr: true},
		{in: "NonConflicting", wantErr: true},
		{in: "Partial", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRelationship(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrValidation, "%q", tt.in)
			continue
		}
		assert.NoError(t, err, "%q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}
