package policy

// Field names a response field that is subject to per-role shaping.
type Field string

const (
	FieldName           Field = "name"
	FieldMatricNumber   Field = "matricNumber"
	FieldWalletAddress  Field = "walletAddress"
	FieldFaculty        Field = "faculty"
	FieldProgramme      Field = "programme"
	FieldDepartment     Field = "department"
	FieldLevel          Field = "currentLevel"
	FieldRecords        Field = "academicRecords"
	FieldCumulativeGPA  Field = "cumulativeGPA"
	FieldTranscriptHash Field = "transcriptHash"
)

func AllFields() FieldSet {
	return NewFieldSet(
		FieldName, FieldMatricNumber, FieldWalletAddress, FieldFaculty, FieldProgramme,
		FieldDepartment, FieldLevel, FieldRecords, FieldCumulativeGPA, FieldTranscriptHash,
	)
}

type FieldSet map[Field]struct{}

func NewFieldSet(fields ...Field) FieldSet {
	set := make(FieldSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func (s FieldSet) Has(f Field) bool {
	_, ok := s[f]
	return ok
}

func (s FieldSet) Without(fields ...Field) FieldSet {
	out := make(FieldSet, len(s))
	for f := range s {
		out[f] = struct{}{}
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

func (s FieldSet) Union(other FieldSet) FieldSet {
	out := s.Without()
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}
