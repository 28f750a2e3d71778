package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleen-app/kleen/internal/review"
)

func TestLineReader_TrimsAndEnds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lr := newLineReader(strings.NewReader("  k \nd\n"))

	line, err := lr.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k", line)

	line, err = lr.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d", line)

	_, err = lr.ReadLine(ctx)
	require.ErrorIs(t, err, io.EOF)

	_, err = lr.ReadLine(ctx)
	require.ErrorIs(t, err, io.EOF, "EOF is sticky")
}

func TestLineReader_ContextCanceled(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	lr := newLineReader(pr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := lr.ReadLine(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfirmDelete(t *testing.T) {
	t.Parallel()

	items := []review.Item{{ID: "a.jpg", Size: 1024}, {ID: "b.jpg", Size: 1024}}

	tests := []struct {
		name  string
		input string
		mode  string
		want  bool
		ask   string
	}{
		{"yes", "y\n", "trash", true, "Move 2 item(s), 2.0 KiB to the trash? [y/N] "},
		{"long yes", "YES\n", "trash", true, "Move 2 item(s)"},
		{"no", "n\n", "trash", false, "Move"},
		{"empty declines", "\n", "permanent", false, "Permanently delete 2 item(s), 2.0 KiB? [y/N] "},
		{"eof declines", "", "trash", false, "Move"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer

			confirm := confirmDelete(newLineReader(strings.NewReader(tt.input)), &out, tt.mode)

			ok, err := confirm(context.Background(), items)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Contains(t, out.String(), tt.ask)
		})
	}
}
