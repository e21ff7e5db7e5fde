package style

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, input string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevIn, prevNoColor := Output, Input, color.NoColor
	Output, Input, color.NoColor = &buf, strings.NewReader(input), true
	t.Cleanup(func() {
		Output, Input, color.NoColor = prevOut, prevIn, prevNoColor
	})
	return &buf
}

func TestPrinters(t *testing.T) {
	tests := []struct {
		name  string
		print func(format string, a ...any)
		want  string
	}{
		{name: "info", print: Info, want: "[INFO] copied 3 files\n"},
		{name: "warn", print: Warn, want: "[WARN] copied 3 files\n"},
		{name: "error", print: Err, want: "[ERROR] copied 3 files\n"},
		{name: "ok", print: Ok, want: "[OK] copied 3 files\n"},
		{name: "success", print: Success, want: "[SUCCESS] copied 3 files\n"},
		{name: "sub", print: Sub, want: "copied 3 files\n"},
		{name: "plain", print: Plain, want: "copied 3 files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t, "")
			tt.print("copied %d files", 3)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "yes\n", want: true},
		{input: "  YES \n", want: true},
		{input: "y\n", want: false},
		{input: "no\n", want: false},
		{input: "", want: false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			buf := capture(t, tt.input)
			assert.Equal(t, tt.want, Confirm("Delete %d backups?", 2))
			assert.Contains(t, buf.String(), `Delete 2 backups? (only "yes" will be accepted)`)
		})
	}
}

func TestOutputIsSwappable(t *testing.T) {
	prev := Output
	Output = io.Discard
	defer func() { Output = prev }()

	assert.NotPanics(t, func() { Signature("banner") })
}
