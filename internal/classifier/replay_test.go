package classifier

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
)

const sampleDump = `J48 pruned tree
------------------

weekly_self_study_hours <= 9.5
|   attendance_percentage <= 70: FAIL (120.0/4.0)
|   attendance_percentage > 70: PASS
weekly_self_study_hours > 9.5: PASS (300.0/21.0)

Number of Leaves  : 	3
`

func TestReplayDistribution(t *testing.T) {
	r, err := NewReplay(sampleDump, features.Labels()...)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	tests := []struct {
		name string
		rec  features.Record
		want Distribution
	}{
		{
			"annotated leaf",
			features.Record{features.StudyHours: 5, features.Attendance: 60},
			Distribution{{"FAIL", 117.0 / 122.0}, {"PASS", 5.0 / 122.0}},
		},
		{
			"bare leaf",
			features.Record{features.StudyHours: 5, features.Attendance: 90},
			Distribution{{"FAIL", 1.0 / 3.0}, {"PASS", 2.0 / 3.0}},
		},
		{
			"no leaf reached",
			features.Record{},
			Distribution{{"FAIL", 0.5}, {"PASS", 0.5}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Distribution(context.Background(), tc.rec)
			if err != nil {
				t.Fatalf("distribution: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d labels got %d", len(tc.want), len(got))
			}
			for i := range got {
				if got[i].Label != tc.want[i].Label || math.Abs(got[i].P-tc.want[i].P) > 1e-9 {
					t.Fatalf("expected %v got %v", tc.want, got)
				}
			}
		})
	}
}

func TestReplayLabelsFromTree(t *testing.T) {
	r, err := NewReplay(sampleDump)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	dist, err := r.Distribution(context.Background(), features.Record{})
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	if len(dist) != 2 || dist[0].Label != "FAIL" || dist[1].Label != "PASS" {
		t.Fatalf("unexpected labels %v", dist)
	}
	if _, err := NewReplay("no tree here"); !errors.Is(err, ErrEmptyModel) {
		t.Fatalf("expected ErrEmptyModel got %v", err)
	}
}

func TestArgMaxPrefersFirstOnTie(t *testing.T) {
	best, ok := Distribution{{"FAIL", 0.5}, {"PASS", 0.5}}.ArgMax()
	if !ok || best.Label != "FAIL" {
		t.Fatalf("expected FAIL got %v", best)
	}
	best, _ = Distribution{{"FAIL", 0.2}, {"PASS", 0.8}}.ArgMax()
	if best.Label != "PASS" || best.P != 0.8 {
		t.Fatalf("expected PASS got %v", best)
	}
	if _, ok := (Distribution{}).ArgMax(); ok {
		t.Fatalf("expected no winner for an empty distribution")
	}
}
