package instance

import "testing"

func TestScrub(t *testing.T) {
	cases := []struct{ in, want string }{
		{
			in:   `CREATE USER 'repl'@'%' IDENTIFIED BY 'sup3r-secret'`,
			want: `CREATE USER 'repl'@'%' IDENTIFIED BY '****'`,
		},
		{
			in:   `SELECT 1`,
			want: `SELECT 1`,
		},
		{
			in:   `ALTER USER 'repl'@'%' IDENTIFIED BY "another\"pw"`,
			want: `ALTER USER 'repl'@'%' IDENTIFIED BY '****'`,
		},
	}
	for _, c := range cases {
		if got := Scrub(c.in); got != c.want {
			t.Errorf("Scrub(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalizeHostPort(t *testing.T) {
	cases := []struct {
		host string
		port int
		want string
	}{
		{"db1.example.com", 3306, "db1.example.com:3306"},
		{"10.0.0.1", 3306, "10.0.0.1:3306"},
		{"::1", 3306, "[::1]:3306"},
		{"fe80::1%eth0", 33060, "[fe80::1%eth0]:33060"},
	}
	for _, c := range cases {
		if got := CanonicalizeHostPort(c.host, c.port); got != c.want {
			t.Errorf("CanonicalizeHostPort(%q,%d) = %q, want %q", c.host, c.port, got, c.want)
		}
	}
}

func TestOptionsDSNRequiresUser(t *testing.T) {
	opts := Options{Host: "db1", Port: 3306}
	if _, err := opts.dsn(); err == nil {
		t.Fatal("expected MISSING_AUTH error for empty user")
	}
}

func TestOptionsEndpoint(t *testing.T) {
	opts := Options{Host: "db1", Port: 3307}
	if got, want := opts.Endpoint(), "db1:3307"; got != want {
		t.Errorf("Endpoint() = %q, want %q", got, want)
	}
}
