package fee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pirouette-labs/studio-ledger-api/internal/models"
	appErrors "github.com/pirouette-labs/studio-ledger-api/pkg/errors"
)

func TestFeePricing(t *testing.T) {
	engine := NewEngine(DefaultTable())

	cases := []struct {
		name   string
		status models.AttendanceStatus
		attrs  models.AttributeSet
		want   int
	}{
		{"present clean", models.StatusPresent, nil, 0},
		{"absent flat", models.StatusAbsent, nil, 5},
		{"absent ignores attributes", models.StatusAbsent, models.AttributeSet{models.AttrLate, models.AttrNoShoes}, 5},
		{"medical free", models.StatusMedicalAbsence, nil, 0},
		{"holiday free", models.StatusHoliday, nil, 0},
		{"late only", models.StatusPresent, models.AttributeSet{models.AttrLate}, 1},
		{"all attributes stack", models.StatusPresent, models.AttributeSet{models.AttrLate, models.AttrNoShoes, models.AttrNotInUniform}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.Fee(tc.status, tc.attrs)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFeeRejectsLatePseudoStatus(t *testing.T) {
	engine := NewEngine(DefaultTable())
	_, err := engine.Fee("late", nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidStatus))
}

func TestFeeRejectsUnknownStatus(t *testing.T) {
	engine := NewEngine(DefaultTable())
	_, err := engine.Fee("vacation", nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidStatus))
}

func TestDelta(t *testing.T) {
	engine := NewEngine(DefaultTable())

	absent := &models.AttendanceRecord{Status: models.StatusAbsent}
	medical := &models.AttendanceRecord{Status: models.StatusMedicalAbsence}
	lateShoes := &models.AttendanceRecord{Status: models.StatusPresent, Attributes: models.AttributeSet{models.AttrLate, models.AttrNoShoes}}
	lateUniform := &models.AttendanceRecord{Status: models.StatusPresent, Attributes: models.AttributeSet{models.AttrLate, models.AttrNotInUniform}}

	cases := []struct {
		name       string
		prev, next *models.AttendanceRecord
		want       int
	}{
		{"new absence charges", nil, absent, 5},
		{"absence corrected to medical refunds", absent, medical, -5},
		{"equal fee swap posts nothing", lateShoes, lateUniform, 0},
		{"removal refunds", absent, nil, -5},
		{"no record no delta", nil, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.Delta(tc.prev, tc.next)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCustomTable(t *testing.T) {
	engine := NewEngine(Table{Absent: 10, Late: 2, NoShoes: 3, NotInUniform: 4})
	got, err := engine.Fee(models.StatusPresent, models.AttributeSet{models.AttrLate, models.AttrNotInUniform})
	require.NoError(t, err)
	assert.Equal(t, 6, got)

	got, err = engine.Fee(models.StatusAbsent, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}
