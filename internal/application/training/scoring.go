// Package training 实现回答质量评分与优质问答的知识库晋升
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kbchat/backend/internal/infrastructure/llm"
)

// NeutralScore 评分解析失败时的中性分
const NeutralScore = 3

// answerScoringPrompt 自动评分提示词，要求模型只输出 JSON
const answerScoringPrompt = `评估下面这个回答的质量，从 1 到 5 打分：
1=完全错误，3=基本可用，5=准确且完整。

问题：
%s

回答：
%s

只输出一个 JSON 对象，格式：{"score": 分数, "reason": "一句话理由"}`

// ScoreResult 一次自动评分的结果
type ScoreResult struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// ScoreAnswer 让模型给问答对打分，任何失败都退回中性分而不报错
func (s *Service) ScoreAnswer(ctx context.Context, question, answer string) ScoreResult {
	result := s.generator.Generate(ctx, &llm.Request{
		Prompt: fmt.Sprintf(answerScoringPrompt, question, answer),
		Meta:   llm.Meta{Task: llm.TaskAnswerScoring, Source: "training"},
	})

	score := ParseScoreResponse(result.Text)
	s.logger.Info("Answer scored", "score", score.Score, "reason", score.Reason)
	return score
}

// ParseScoreResponse 解析评分输出
// 取响应中第一个完整的 JSON 对象，分数夹到 1-5；解析失败返回中性分 3
func ParseScoreResponse(raw string) ScoreResult {
	obj := extractFirstJSONObject(raw)
	if obj == "" {
		return ScoreResult{Score: NeutralScore}
	}

	var parsed ScoreResult
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return ScoreResult{Score: NeutralScore}
	}

	// 对象里没有 score 字段视同解析失败
	if parsed.Score == 0 {
		return ScoreResult{Score: NeutralScore, Reason: parsed.Reason}
	}
	if parsed.Score < 1 {
		parsed.Score = 1
	}
	if parsed.Score > 5 {
		parsed.Score = 5
	}
	return parsed
}

// extractFirstJSONObject 提取文本中第一个配平的 JSON 对象，找不到返回空串
func extractFirstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
