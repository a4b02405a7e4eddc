package workflow

import (
	"errors"
	"fmt"
	"testing"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

func TestSplitContactName(t *testing.T) {
	cases := []struct {
		in    string
		first string
		last  string
	}{
		{"Jane Doe", "Jane", "Doe"},
		{"Jane", "Jane", ""},
		{"  Jane   van   Doe  ", "Jane", "van Doe"},
		{"", "", ""},
	}
	for _, tc := range cases {
		first, last := SplitContactName(tc.in)
		if first != tc.first || last != tc.last {
			t.Fatalf("SplitContactName(%q) = (%q, %q), want (%q, %q)", tc.in, first, last, tc.first, tc.last)
		}
	}
}

func TestTitleCasedDomainLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"acme.com", "Acme"},
		{"acme.co.uk", "Acme"},
		{"x.io", "X"},
	}
	for _, tc := range cases {
		if got := titleCasedDomainLabel(tc.in); got != tc.want {
			t.Fatalf("titleCasedDomainLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	if !isDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"}) {
		t.Fatal("mysql 1062 not recognized")
	}
	if !isDuplicateKeyErr(fmt.Errorf("create: %w", gorm.ErrDuplicatedKey)) {
		t.Fatal("wrapped gorm.ErrDuplicatedKey not recognized")
	}
	if isDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1452}) {
		t.Fatal("foreign key error misclassified as duplicate")
	}
	if isDuplicateKeyErr(errors.New("boom")) {
		t.Fatal("generic error misclassified as duplicate")
	}
}
