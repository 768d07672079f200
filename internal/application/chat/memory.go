package chat

import (
	"regexp"
	"strings"
)

// 从提问中抽取用户事实的模式，命中写入会话 memory
var memoryPatterns = []struct {
	key string
	re  *regexp.Regexp
}{
	{"name", regexp.MustCompile(`我叫([\p{Han}A-Za-z0-9·]{1,16})`)},
	{"name", regexp.MustCompile(`我的名字是([\p{Han}A-Za-z0-9·]{1,16})`)},
	{"name", regexp.MustCompile(`(?i)my name is ([A-Za-z][A-Za-z .\-]{0,30})`)},
	{"name", regexp.MustCompile(`(?i)call me ([A-Za-z][A-Za-z .\-]{0,30})`)},
	{"department", regexp.MustCompile(`我在([\p{Han}A-Za-z0-9]{1,16}(?:部|组|中心|团队))`)},
}

// ExtractMemoryFacts 从文本中抽取用户事实
// 同一个 key 命中多次时保留最后一次，未命中返回空 map
func ExtractMemoryFacts(text string) map[string]string {
	facts := make(map[string]string)
	for _, pattern := range memoryPatterns {
		matches := pattern.re.FindAllStringSubmatch(text, -1)
		for _, match := range matches {
			value := strings.TrimSpace(match[1])
			value = strings.TrimRight(value, "。，,.!！?？")
			if value != "" {
				facts[pattern.key] = value
			}
		}
	}
	return facts
}
