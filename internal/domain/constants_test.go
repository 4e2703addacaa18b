// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"testing"
)

func TestStageConstants(t *testing.T) {
	want := []string{"carpentry", "webbing", "marking_cutting", "stitching", "cladding", "final_qc"}
	if len(KnownStages) != len(want) {
		t.Fatalf("expected %d stages got %d", len(want), len(KnownStages))
	}
	for i, s := range KnownStages {
		if string(s) != want[i] {
			t.Fatalf("unexpected stage[%d]: %s", i, s)
		}
	}
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage(" Final_QC ")
	if err != nil {
		t.Fatalf("parse stage: %v", err)
	}
	if s != StageFinalQC {
		t.Fatalf("expected %s got %s", StageFinalQC, s)
	}

	if _, err := ParseStage("upholstery"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	cases := []struct {
		in        string
		valid     bool
		satisfied bool
	}{
		{in: "pending", valid: true},
		{in: "passed", valid: true, satisfied: true},
		{in: "failed", valid: true},
		{in: "skipped", valid: true, satisfied: true},
		{in: "approved"},
		{in: ""},
	}

	for _, tc := range cases {
		s, err := ParseCheckStatus(tc.in)
		if tc.valid != (err == nil) {
			t.Fatalf("ParseCheckStatus(%q): unexpected error %v", tc.in, err)
		}
		if err != nil {
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ParseCheckStatus(%q): expected validation error got %v", tc.in, err)
			}
			continue
		}
		if s.Satisfied() != tc.satisfied {
			t.Fatalf("%s: expected satisfied=%v", s, tc.satisfied)
		}
	}
}

func TestActiveChecklistByLabel(t *testing.T) {
	a := ActiveChecklist{Groups: []ChecklistGroup{
		{Stage: StageWebbing, Label: "Webbing", Items: []ChecklistItem{{Name: "tension"}}},
	}}

	got := a.ByLabel()
	if len(got["Webbing"]) != 1 {
		t.Fatalf("expected one item under Webbing, got %v", got)
	}
}
