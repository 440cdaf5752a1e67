package utils

import (
	"strings"
	"testing"
)

func caller() string {
	return FileWithLineNum()
}

func TestFileWithLineNum(t *testing.T) {
	got := caller()
	if !strings.Contains(got, "utils_test.go") {
		t.Errorf("expected the caller's test file, got %v", got)
	}
	if !strings.Contains(got, ":") {
		t.Errorf("expected a line number suffix, got %v", got)
	}
}

func TestSourceDirFromFile(t *testing.T) {
	if dir := sourceDirFromFile("/home/user/project/utils/utils.go"); dir != "/home/user/project/" {
		t.Errorf("unexpected source dir %v", dir)
	}
}
