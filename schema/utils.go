package schema

import (
	"bytes"
	"strings"
)

type strCase bool

const (
	lower strCase = false
	upper strCase = true
)

// ToDBName convert str to db name
func ToDBName(name string) string {
	if name == "" {
		return ""
	}
	var (
		value                        = name
		buf                          = bytes.NewBufferString("")
		lastCase, currCase, nextCase strCase
	)

	for i, v := range value[:len(value)-1] {
		nextCase = strCase(value[i+1] >= 'A' && value[i+1] <= 'Z')
		if i > 0 {
			if currCase == upper {
				if lastCase == upper && nextCase == upper {
					buf.WriteRune(v)
				} else {
					if value[i-1] != '_' && value[i+1] != '_' {
						buf.WriteRune('_')
					}
					buf.WriteRune(v)
				}
			} else {
				buf.WriteRune(v)
				if i == len(value)-2 && nextCase == upper {
					buf.WriteRune('_')
				}
			}
		} else {
			currCase = upper
			buf.WriteRune(v)
		}
		lastCase = currCase
		currCase = nextCase
	}

	buf.WriteByte(value[len(value)-1])
	return strings.ToLower(buf.String())
}

func checkTruth(val string) bool {
	return strings.ToLower(val) != "false"
}

func toColumns(val string) (results []string) {
	if val != "" {
		for _, v := range strings.Split(val, ",") {
			results = append(results, strings.TrimSpace(v))
		}
	}
	return
}

// ParseTagSetting parse struct tag values into a settings map
func ParseTagSetting(str string, sep string) map[string]string {
	settings := map[string]string{}
	for _, value := range strings.Split(str, sep) {
		values := strings.Split(value, ":")
		k := strings.TrimSpace(strings.ToUpper(values[0]))

		if len(values) >= 2 {
			settings[k] = strings.Join(values[1:], ":")
		} else if k != "" {
			settings[k] = k
		}
	}
	return settings
}
