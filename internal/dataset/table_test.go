package dataset

import (
	"strings"
	"testing"
)

func TestHeader(t *testing.T) {
	h := Header()

	if len(h) != NumColumns || NumColumns != 102 {
		t.Fatalf("expected 102 columns, got %d", len(h))
	}

	checks := map[int]string{
		0:   "file_name",
		1:   "NOSE_x",
		2:   "NOSE_y",
		3:   "NOSE_score",
		70:  "LEFT_HIP_x",
		99:  "RIGHT_FOOT_INDEX_score",
		100: "class_no",
		101: "class_name",
	}
	for i, want := range checks {
		if h[i] != want {
			t.Errorf("column %d = %q, want %q", i, h[i], want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{345, "345"},
		{-0.1, "-0.1"},
		{1.0 / 3, "0.3333333333333333"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTable(t *testing.T) {
	row := func(name string, classNo, className string) string {
		vals := make([]string, LandmarkValues)
		for i := range vals {
			vals[i] = "1.5"
		}
		return name + "," + strings.Join(vals, ",") + "," + classNo + "," + className
	}

	t.Run("valid table", func(t *testing.T) {
		in := strings.Join([]string{
			strings.Join(Header(), ","),
			row("up/a.png", "1", "up"),
			row("down/b.png", "0", "down"),
		}, "\n")

		table, err := ParseTable(strings.NewReader(in))
		if err != nil {
			t.Fatalf("ParseTable() error = %v", err)
		}
		if len(table.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(table.Rows))
		}
		if table.Rows[0].ClassNo != 1 || table.Rows[0].Values[98] != 1.5 {
			t.Errorf("unexpected first row: %+v", table.Rows[0])
		}
		names := table.ClassNames()
		if len(names) != 2 || names[0] != "down" || names[1] != "up" {
			t.Errorf("ClassNames() = %v, want [down up]", names)
		}
	})

	t.Run("wrong header", func(t *testing.T) {
		h := Header()
		h[1] = "nose_x"
		_, err := ParseTable(strings.NewReader(strings.Join(h, ",")))
		if err == nil {
			t.Error("expected header error")
		}
	})

	t.Run("bad number", func(t *testing.T) {
		bad := strings.Replace(row("up/a.png", "1", "up"), "1.5", "abc", 1)
		_, err := ParseTable(strings.NewReader(strings.Join(Header(), ",") + "\n" + bad))
		if err == nil || !strings.Contains(err.Error(), "NOSE_x") {
			t.Errorf("expected column error, got %v", err)
		}
	})
}
