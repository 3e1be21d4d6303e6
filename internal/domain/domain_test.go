package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusAcceptsOpenAlias(t *testing.T) {
	s, ok := ParseStatus("open")
	require.True(t, ok)
	assert.Equal(t, TicketStatusAssigned, s)

	_, ok = ParseStatus("PENDING")
	assert.False(t, ok)
}

func TestParsePriorityV2Scale(t *testing.T) {
	tests := map[string]TicketPriority{
		"P0": TicketPriorityHigh, "p1": TicketPriorityHigh,
		"P2": TicketPriorityMedium, "P3": TicketPriorityLow, "medium": TicketPriorityMedium,
	}
	for in, want := range tests {
		got, ok := ParsePriority(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
}

func TestAssignSlotsAreExclusive(t *testing.T) {
	tk := &Ticket{}
	tk.AssignGroup(3)
	tk.AssignPerson(9)
	assert.Nil(t, tk.AssigneeGroupID)
	assert.Equal(t, Assignee{Kind: AssigneePerson, ID: 9}, tk.CurrentAssignee())

	tk.AssignGroup(4)
	assert.Nil(t, tk.AssigneePersonID)
	assert.Equal(t, AssigneeGroup, tk.CurrentAssignee().Kind)
}

func TestMatrixWaitMinutes(t *testing.T) {
	tests := []struct {
		freq  Frequency
		value int
		want  int
	}{
		{FrequencyMinute, 30, 30},
		{FrequencyHour, 2, 120},
		{FrequencyDay, 1, 1440},
		{FrequencyWeek, 2, 20160},
	}
	for _, tt := range tests {
		e := MatrixEntry{Frequency: tt.freq, FrequencyValue: tt.value}
		assert.Equal(t, tt.want, e.WaitMinutes())
	}

	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	e := MatrixEntry{Frequency: FrequencyHour, FrequencyValue: 2}
	assert.Equal(t, created.Add(2*time.Hour), e.Expiry(created))
}

func TestValidateMatrix(t *testing.T) {
	ok := []MatrixEntry{
		{CategoryID: 1, Level: 1, Frequency: FrequencyHour, FrequencyValue: 1},
		{CategoryID: 1, Level: 2, Frequency: FrequencyDay, FrequencyValue: 1},
		{CategoryID: 2, Level: 1, Frequency: FrequencyMinute, FrequencyValue: 15},
	}
	require.NoError(t, ValidateMatrix(ok))

	dup := append([]MatrixEntry{}, ok...)
	dup = append(dup, MatrixEntry{CategoryID: 1, Level: 2, Frequency: FrequencyHour, FrequencyValue: 3})
	assert.ErrorContains(t, ValidateMatrix(dup), "duplicate level 2")

	gap := []MatrixEntry{{CategoryID: 1, Level: 2, Frequency: FrequencyHour, FrequencyValue: 1}}
	assert.ErrorContains(t, ValidateMatrix(gap), "contiguous")
}

func TestSeverityCreatesTicket(t *testing.T) {
	assert.True(t, SeverityCritical.CreatesTicket())
	assert.True(t, SeverityHigh.CreatesTicket())
	assert.False(t, SeverityMedium.CreatesTicket())
	assert.False(t, SeverityLow.CreatesTicket())
}
