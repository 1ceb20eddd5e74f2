package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"

	"github.com/cmu-db/peloton-sub010/engine"
)

const (
	pelotonHistory = ".peloton_history"
)

type linerReader struct {
	line *liner.State
}

func (lr linerReader) ReadLine() (string, error) {
	s, err := lr.line.Prompt("peloton> ")
	if err == liner.ErrPromptAborted {
		return "", io.EOF
	} else if err != nil {
		return "", err
	}
	if s != "" {
		lr.line.AppendHistory(s)
	}
	return s, nil
}

type scanReader struct {
	scanner *bufio.Scanner
}

func (sr scanReader) ReadLine() (string, error) {
	if !sr.scanner.Scan() {
		if err := sr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return sr.scanner.Text(), nil
}

// NewReader returns a LineReader which reads lines from r without editing.
func NewReader(r io.Reader) LineReader {
	return scanReader{bufio.NewScanner(r)}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return pelotonHistory
	}
	return filepath.Join(home, pelotonHistory)
}

// Interact runs an editing shell on the terminal, keeping the line history
// in the home directory.
func Interact(ctx context.Context, e *engine.Engine) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	hf := historyFile()
	if f, err := os.Open(hf); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	Repl(ctx, e, linerReader{line}, os.Stdout)

	if f, err := os.Create(hf); err != nil {
		fmt.Fprintf(os.Stderr, "peloton: error writing history file, %s: %s\n", hf, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
}
