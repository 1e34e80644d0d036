package reportdates

import (
	"testing"
	"time"
)

func anchor(iso string) ReportDates {
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		panic(err)
	}
	return New(t)
}

func TestDaily(t *testing.T) {
	rd := anchor("2026-02-20")
	got := rd.Daily()
	want := Range{"2026-02-20", "2026-02-20"}
	if got != want {
		t.Errorf("Daily() = %+v, want %+v", got, want)
	}
}

func TestWTD(t *testing.T) {
	// 2026-02-20 is a Friday.
	rd := anchor("2026-02-20")
	got := rd.WTD()
	want := Range{"2026-02-16", "2026-02-20"}
	if got != want {
		t.Errorf("WTD() = %+v, want %+v", got, want)
	}
}

func TestFullMonth(t *testing.T) {
	rd := anchor("2026-02-20")
	got := rd.FullMonth()
	want := Range{"2026-02-01", "2026-02-28"}
	if got != want {
		t.Errorf("FullMonth() = %+v, want %+v", got, want)
	}
}

func TestQTD(t *testing.T) {
	rd := anchor("2026-02-20")
	got := rd.QTD()
	want := Range{"2026-01-01", "2026-02-20"}
	if got != want {
		t.Errorf("QTD() = %+v, want %+v", got, want)
	}
}

func TestMoM(t *testing.T) {
	rd := anchor("2026-02-20")
	got := rd.MoM()
	want := Comparison{
		Current:  Range{"2026-02-01", "2026-02-28"},
		Previous: Range{"2026-01-01", "2026-01-31"},
	}
	if got != want {
		t.Errorf("MoM() = %+v, want %+v", got, want)
	}
}

func TestCMTDvsPMTD(t *testing.T) {
	rd := anchor("2026-03-31")
	got := rd.CMTDvsPMTD()
	// Previous month is February 2026 (28 days) — day clamps to 28.
	want := Comparison{
		Current:  Range{"2026-03-01", "2026-03-31"},
		Previous: Range{"2026-02-01", "2026-02-28"},
	}
	if got != want {
		t.Errorf("CMTDvsPMTD() = %+v, want %+v", got, want)
	}
}

func TestYTDCYvsPY(t *testing.T) {
	rd := anchor("2026-02-20")
	got := rd.YTDCYvsPY()
	want := Comparison{
		Current:  Range{"2026-01-01", "2026-02-20"},
		Previous: Range{"2025-01-01", "2025-02-20"},
	}
	if got != want {
		t.Errorf("YTDCYvsPY() = %+v, want %+v", got, want)
	}
}

func TestBuildPeriodFilterScenario(t *testing.T) {
	// Spec §8 scenario 1.
	rd := anchor("2026-02-20")
	r := rd.WTD()
	if r.Start != "2026-02-16" || r.End != "2026-02-20" {
		t.Fatalf("WTD() = %+v", r)
	}
	got := BuildPeriodFilter("ServiceDate", r.Start, r.End)
	want := "ServiceDate ge 2026-02-16 and ServiceDate le 2026-02-20"
	if got != want {
		t.Errorf("BuildPeriodFilter = %q, want %q", got, want)
	}
}

func TestBuildPeriodFilterSingleDay(t *testing.T) {
	got := BuildPeriodFilter("ServiceDate", "2026-02-20", "2026-02-20")
	want := "ServiceDate eq 2026-02-20"
	if got != want {
		t.Errorf("BuildPeriodFilter = %q, want %q", got, want)
	}
}
