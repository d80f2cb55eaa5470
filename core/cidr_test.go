package core

import "testing"

func TestInRangeIPv4(t *testing.T) {
	cases := []struct {
		addr, cidr string
		want       bool
	}{
		{"103.21.244.1", "103.21.244.0/22", true},
		{"103.21.247.255", "103.21.244.0/22", true},
		{"103.21.248.0", "103.21.244.0/22", false},
		{"198.41.128.10", "198.41.128.0/17", true},
		{"10.0.0.1", "198.41.128.0/17", false},
		{"1.2.3.4", "0.0.0.0/0", true},
		{"1.2.3.4", "1.2.3.4/32", true},
		{"1.2.3.5", "1.2.3.4/32", false},
	}
	for _, c := range cases {
		if got := InRange(c.addr, c.cidr); got != c.want {
			t.Errorf("InRange(%q, %q) = %v, want %v", c.addr, c.cidr, got, c.want)
		}
	}
}

func TestInRangeIPv6(t *testing.T) {
	cases := []struct {
		addr, cidr string
		want       bool
	}{
		{"2400:cb00::1", "2400:cb00::/32", true},
		{"2400:cb00:0000:0000:0000:0000:0000:0001", "2400:cb00::/32", true},
		{"2400:cb01::1", "2400:cb00::/32", false},
		{"2606:4700:4700::1111", "2606:4700::/32", true},
		{"::1", "::1/128", true},
		{"::2", "::1/128", false},
	}
	for _, c := range cases {
		if got := InRange(c.addr, c.cidr); got != c.want {
			t.Errorf("InRange(%q, %q) = %v, want %v", c.addr, c.cidr, got, c.want)
		}
	}
}

func TestInRangeFamilyMismatch(t *testing.T) {
	if InRange("1.2.3.4", "2400:cb00::/32") {
		t.Error("v4 address must not match v6 range")
	}
	if InRange("2400:cb00::1", "1.2.3.0/24") {
		t.Error("v6 address must not match v4 range")
	}
}

func TestInRangeMappedForm(t *testing.T) {
	// 4-in-6 renderings of an IPv4 address still match IPv4 ranges.
	if !InRange("::ffff:103.21.244.1", "103.21.244.0/22") {
		t.Error("mapped v4 address should match after unmapping")
	}
}

func TestInRangeMalformed(t *testing.T) {
	cases := [][2]string{
		{"", "1.2.3.0/24"},
		{"1.2.3.4", ""},
		{"not-an-ip", "1.2.3.0/24"},
		{"1.2.3.4", "1.2.3.0/33"},
		{"1.2.3.4", "1.2.3.0"},
		{"1.2.3", "1.2.3.0/24"},
	}
	for _, c := range cases {
		if InRange(c[0], c[1]) {
			t.Errorf("InRange(%q, %q) should be false", c[0], c[1])
		}
	}
}

func TestInAnyRange(t *testing.T) {
	ranges := []string{"103.21.244.0/22", "198.41.128.0/17"}
	if !InAnyRange("198.41.129.77", ranges) {
		t.Error("expected match in second range")
	}
	if InAnyRange("8.8.8.8", ranges) {
		t.Error("expected no match")
	}
	if InAnyRange("8.8.8.8", nil) {
		t.Error("empty list must never match")
	}
}
