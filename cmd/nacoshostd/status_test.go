package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseStatusLine(t *testing.T) {
	got := parseStatusLine("demo\tgate=open\tweight=1.00\ttimeout_rate=0.10\terror_rate=0.00")
	want := []string{"demo", "open", "1.00", "0.10", "0.00"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseStatusLine() = %v, want %v", got, want)
	}
}

func TestParseStatusLine_MissingTrailingFields(t *testing.T) {
	got := parseStatusLine("demo\tgate=open")
	want := []string{"demo", "open", "", "", ""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseStatusLine() = %v, want %v", got, want)
	}
}

func TestRenderStatusTable_ContainsHeaders(t *testing.T) {
	out := renderStatusTable([]string{"demo\tgate=open\tweight=1.00\ttimeout_rate=0.10\terror_rate=0.00"})
	for _, want := range []string{"identifier", "gate", "weight", "timeout rate", "error rate", "demo", "open", "1.00", "0.10"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered table missing %q:\n%s", want, out)
		}
	}
}
