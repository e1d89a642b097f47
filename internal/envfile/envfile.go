// Package envfile edits KEY=value pairs in a dotenv file in place.
package envfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var validKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrNoFile is returned when the dotenv file does not exist. Update never
// creates the file.
var ErrNoFile = errors.New("env file does not exist")

// Update sets key to value in the file at path. An existing assignment
// (optionally prefixed with "export") is replaced in place; otherwise the
// assignment is appended. Other lines, comments included, are preserved.
func Update(path, key, value string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("invalid env key %q", key)
	}
	if strings.ContainsAny(value, "'\n\r") {
		return fmt.Errorf("value for %s cannot contain quotes or newlines", key)
	}
	// #nosec G304 -- the path comes from operator configuration.
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrNoFile)
		}
		return fmt.Errorf("read env file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat env file: %w", err)
	}

	assignment := fmt.Sprintf("%s='%s'", key, value)
	pattern := regexp.MustCompile(`^\s*(export\s+)?` + regexp.QuoteMeta(key) + `\s*=`)

	lines := strings.SplitAfter(string(content), "\n")
	replaced := false
	for i, line := range lines {
		if !pattern.MatchString(line) {
			continue
		}
		ending := ""
		if strings.HasSuffix(line, "\n") {
			ending = "\n"
		}
		prefix := ""
		if m := pattern.FindStringSubmatch(line); m[1] != "" {
			prefix = "export "
		}
		lines[i] = prefix + assignment + ending
		replaced = true
		break
	}

	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
	}
	if !replaced {
		if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
		buf.WriteString(assignment + "\n")
	}
	return writeAtomic(path, buf.Bytes(), info.Mode().Perm())
}

func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".env.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp env file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write env file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("chmod env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close env file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replace env file: %w", err)
	}
	return nil
}
