package utils

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

var sourceDir string

func init() {
	_, file, _, _ := runtime.Caller(0)
	// compatible solution to get the engine source directory with various operating systems
	sourceDir = sourceDirFromFile(file)
}

func sourceDirFromFile(file string) string {
	dir := filepath.Dir(filepath.Dir(file))
	return filepath.ToSlash(dir) + "/"
}

// FileWithLineNum return the file name and line number of the caller that
// lives outside the engine itself.
func FileWithLineNum() string {
	for i := 2; i < 15; i++ {
		_, file, line, ok := runtime.Caller(i)
		if ok && (!strings.HasPrefix(filepath.ToSlash(file), sourceDir) || strings.HasSuffix(file, "_test.go")) {
			return file + ":" + strconv.Itoa(line)
		}
	}
	return ""
}
