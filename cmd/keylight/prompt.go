package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/forest6511/keylight/pkg/secure"
)

// passwordEnv supplies the master password non-interactively.
const passwordEnv = "KEYLIGHT_PASSWORD"

var errEmptyPassword = errors.New("password must not be empty")

// passwordReader reads master passwords from one input stream. Piped input
// is buffered once, so successive prompts consume successive lines.
type passwordReader struct {
	file *os.File
	r    *bufio.Reader
	out  io.Writer
}

func newPasswordReader(in io.Reader, out io.Writer) *passwordReader {
	p := &passwordReader{r: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.file = f
	}
	return p
}

// Read returns the master password from KEYLIGHT_PASSWORD, the terminal, or
// the next line of piped input. The caller owns the slice.
func (p *passwordReader) Read(prompt string) ([]byte, error) {
	if v, ok := os.LookupEnv(passwordEnv); ok {
		if v == "" {
			return nil, errEmptyPassword
		}
		return []byte(v), nil
	}

	fmt.Fprint(p.out, prompt)
	if p.file != nil {
		pw, err := term.ReadPassword(int(p.file.Fd()))
		fmt.Fprintln(p.out) // Add newline after hidden input
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		if len(pw) == 0 {
			return nil, errEmptyPassword
		}
		return pw, nil
	}
	return readSecretLine(p.r)
}

// readSecretLine reads one line without going through a string. The line is
// wiped from the reader's buffer.
func readSecretLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil && err != io.EOF {
		secure.Wipe(line)
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	defer secure.Wipe(line)

	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	if n == 0 {
		return nil, errEmptyPassword
	}
	out := make([]byte, n)
	copy(out, line[:n])
	return out, nil
}

// interactive reports whether passwords are typed rather than supplied.
func interactive() bool {
	_, ok := os.LookupEnv(passwordEnv)
	return !ok
}
