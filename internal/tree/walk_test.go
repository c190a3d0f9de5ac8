package tree

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleBody = `weekly_self_study_hours <= 9.5
|   attendance_percentage <= 70: FAIL (120.0/4.0)
|   attendance_percentage > 70
|   |   class_participation <= 3: FAIL (10.0/2.0)
|   |   class_participation > 3: PASS (23.0)
weekly_self_study_hours > 9.5: PASS (300.0/21.0)`

func TestStatsAndLabels(t *testing.T) {
	root := Parse(dump(sampleBody))
	leaves, size := Stats(root)
	if leaves != 4 || size != 7 {
		t.Fatalf("expected 4 leaves and size 7 got %d and %d", leaves, size)
	}
	if diff := cmp.Diff([]string{"FAIL", "PASS"}, Labels(root)); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	root := Parse(dump(sampleBody))
	text := Format(root)
	if !strings.Contains(text, "|   |   class_participation > 3: PASS (23)\n") {
		t.Fatalf("unexpected layout:\n%s", text)
	}
	if !strings.HasSuffix(text, "Size of the tree : \t7\n") {
		t.Fatalf("expected size trailer got:\n%s", text)
	}
	if diff := cmp.Diff(root, Parse(text)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWalkSkipsChildren(t *testing.T) {
	root := Parse(dump(sampleBody))
	visited := 0
	Walk(root, func(n Node, depth int) bool {
		visited++
		return depth == 0
	})
	if visited != 3 {
		t.Fatalf("expected root and its 2 children got %d", visited)
	}
}

func TestOperatorEval(t *testing.T) {
	cases := []struct {
		op    Operator
		value float64
		want  bool
	}{
		{LE, 5, true},
		{LE, 5.0001, false},
		{GT, 5, false},
		{GT, 5.0001, true},
		{LE, math.NaN(), false},
		{GT, math.NaN(), false},
		{Operator(0), 1, false},
	}
	for _, tc := range cases {
		if got := tc.op.Eval(tc.value, 5); got != tc.want {
			t.Fatalf("expected %v %s 5 to be %v", tc.value, tc.op, tc.want)
		}
	}
}

func TestNodeJSON(t *testing.T) {
	root := Parse(dump("study <= 9: FAIL (4.0/1.0)\nstudy > 9\n|   attendance > 80: PASS"))
	raw, err := json.Marshal(root)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"children":[` +
		`{"condition":{"attribute":"study","operator":"<=","threshold":9},"label":"FAIL","weight":4,"errors":1},` +
		`{"condition":{"attribute":"study","operator":">","threshold":9},"children":[` +
		`{"condition":{"attribute":"attendance","operator":">","threshold":80},"label":"PASS"}]}]}`
	var got, expected any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if err := json.Unmarshal([]byte(want), &expected); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Fatalf("json mismatch (-want +got):\n%s", diff)
	}

	var c Condition
	if err := json.Unmarshal([]byte(`{"attribute":"a","operator":">","threshold":1.5}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c != cond("a", GT, 1.5) {
		t.Fatalf("unexpected condition %s", c)
	}
	empty, _ := json.Marshal(&Branch{})
	if string(empty) != `{"children":[]}` {
		t.Fatalf("expected empty children got %s", empty)
	}
}
