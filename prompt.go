package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kleen-app/kleen/internal/library"
	"github.com/kleen-app/kleen/internal/review"
)

// lineReader reads lines from an input stream in the background so that a
// blocked read never outlives a canceled context. One lineReader is shared
// by the interactive loop and the delete confirmation prompt.
type lineReader struct {
	lines chan string
	errc  chan error
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{lines: make(chan string), errc: make(chan error, 1)}

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lr.lines <- scanner.Text()
		}

		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}

		lr.errc <- err
	}()

	return lr
}

// ReadLine returns the next trimmed line, io.EOF at end of input, or the
// context error.
func (lr *lineReader) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-lr.lines:
		return strings.TrimSpace(line), nil
	case err := <-lr.errc:
		// Keep reporting the terminal error to later callers.
		lr.errc <- err
		return "", err
	}
}

// confirmDelete returns a library.ConfirmFunc that lists the items about to
// be deleted on out and waits for a yes/no answer on in. Anything other
// than "y" or "yes" declines.
func confirmDelete(in *lineReader, out io.Writer, mode string) library.ConfirmFunc {
	return func(ctx context.Context, items []review.Item) (bool, error) {
		var total int64
		for _, it := range items {
			total += it.Size
		}

		verb := "Move"
		target := " to the trash"

		if mode == string(library.DeletePermanent) {
			verb = "Permanently delete"
			target = ""
		}

		fmt.Fprintf(out, "%s %d item(s), %s%s? [y/N] ", verb, len(items), formatSize(total), target)

		answer, err := in.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}

			return false, err
		}

		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
