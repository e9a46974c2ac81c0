package topic

import "testing"

func TestValidateName(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"a/b/c", false},
		{"", true},
		{"a/+/c", true},
		{"a/#", true},
		{"a/b\x00c", true},
	}
	for _, c := range cases {
		err := ValidateName(c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	cases := []struct {
		filter  string
		wantErr bool
	}{
		{"a/b/c", false},
		{"a/+/c", false},
		{"a/#", false},
		{"#", false},
		{"+", false},
		{"a/b#", true},
		{"a/#/c", true},
		{"a/b+", true},
		{"", true},
	}
	for _, c := range cases {
		err := ValidateFilter(c.filter)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateFilter(%q) error = %v, wantErr %v", c.filter, err, c.wantErr)
		}
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		filter, name string
		want         bool
	}{
		{"sport/tennis/player1/#", "sport/tennis/player1", true},
		{"sport/tennis/player1/#", "sport/tennis/player1/ranking", true},
		{"sport/tennis/player1/#", "sport/tennis/player1/score/wimbledon", true},
		{"sport/#", "sport", true},
		{"sport/+", "sport", false},
		{"sport/+", "sport/", true},
		{"+/+", "/finance", true},
		{"+", "/finance", false},
		{"/+", "/finance", true},
		{"+/tennis/#", "sport/tennis/player1", true},
		{"#", "$SYS/broker/uptime", false},
		{"+/monitor/Clients", "$SYS/monitor/Clients", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
	}
	for _, c := range cases {
		got := Match(c.filter, c.name)
		if got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.filter, c.name, got, c.want)
		}
	}
}

func TestIsSys(t *testing.T) {
	if !IsSys("$SYS/broker/uptime") {
		t.Error("expected $SYS/broker/uptime to be a system topic")
	}
	if IsSys("a/b") {
		t.Error("did not expect a/b to be a system topic")
	}
}
